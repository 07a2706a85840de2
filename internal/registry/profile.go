package registry

// Radiation sensor service identity.
const (
	SensorServiceUUID = "d82bb947-5fc7-48f5-8d59-a60494e4cb3e"
	SensorLocalName   = "Geiger Sensor"

	// DefaultReadSize is the attribute value that fits a single read at the default
	// ATT_MTU of 23 bytes.
	DefaultReadSize = 20
)

// SensorProfile returns the characteristic catalog of the radiation sensor in
// declaration order.
func SensorProfile() []Descriptor {
	drain := Capabilities(0).With(WritableNoResponse).With(Notifiable)

	return []Descriptor{
		{
			ID: EnabledMode, UUID: "a457c45a-e464-4aa5-a6cb-1adf4e98a549",
			Capabilities: drain, Role: RoleDrain,
			Payloads: payloads("0"),
		},
		{
			ID: Zones, UUID: "d8768fa9-30df-42d4-be06-c780225845b3",
			Capabilities: drain, Role: RoleDrain,
			Payloads: payloads("312098095111", "103100095100"),
		},
		{
			ID: Vents, UUID: "408b7b23-e8ec-4323-a913-0a276f8959ca",
			Capabilities: drain, Role: RoleDrain,
			Payloads: payloads("11090991101", "21091001100"),
		},
		{
			ID: DeviceID, UUID: "27841c71-f5b8-4aed-a837-ec17ab657c20",
			Capabilities: Capabilities(0).With(Readable).With(Notifiable), Role: RoleIdentity,
			Identity: []byte("27bffaeb-d0c5-47d4-afa4-c1988f89e2b0"),
			ReadSize: DefaultReadSize,
		},
		{
			ID: Settings, UUID: "7d6fcd08-3416-4575-94a4-7069b6cc74ad",
			Capabilities: drain, Role: RoleDrain,
			Payloads: payloads("SSID_2"),
		},
		{
			ID: DisplaySettings, UUID: "4079043d-e363-43ba-ac2f-42e9f8698524",
			Capabilities: drain, Role: RoleTransform,
			Payloads: payloads("1111111"),
		},
		{
			ID: Commands, UUID: "7b26e39d-7dac-45ff-bc86-ee2a5bcdafcc",
			Capabilities: drain, Role: RoleEcho,
		},
		{
			ID: Alerts, UUID: "0456de03-9f25-4961-8740-72eeaf987a2e",
			Capabilities: drain, Role: RoleDrain,
			Payloads: payloads("101018301234", "060210450234"),
		},
	}
}

// NewSensorRegistry builds the registry of SensorProfile.
func NewSensorRegistry() *Registry {
	return MustNew(SensorProfile()...)
}

func payloads(values ...string) [][]byte {
	result := make([][]byte, len(values))
	for i, v := range values {
		result[i] = []byte(v)
	}
	return result
}
