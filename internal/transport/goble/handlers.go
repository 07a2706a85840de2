package goble

import (
	"context"
	"time"

	ble "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/geigersim/internal/registry"
)

// bindHandlers attaches the GATT request handlers for d to c.
func (t *Transport) bindHandlers(c *ble.Characteristic, d registry.Descriptor) {
	id := d.ID

	if d.Capabilities.Has(registry.Readable) {
		c.HandleRead(ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
			t.serveRead(id, req, rsp)
		}))
	}
	if d.Capabilities.Has(registry.WritableNoResponse) {
		c.HandleWrite(ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
			t.serveWrite(id, req)
		}))
	}
	if d.Capabilities.Has(registry.Notifiable) {
		c.HandleNotify(ble.NotifyHandlerFunc(func(req ble.Request, n ble.Notifier) {
			t.serveNotify(id, req, n)
		}))
	}
}

func (t *Transport) serveRead(id registry.ID, req ble.Request, rsp ble.ResponseWriter) {
	log := t.logger.WithFields(logrus.Fields{"characteristic": id, "central": remoteAddr(req)})

	h := t.currentHandler()
	if h == nil {
		rsp.SetStatus(ble.ErrUnlikely)
		return
	}
	value, err := h.HandleRead(id)
	if err != nil {
		log.WithError(err).Debug("Read refused")
		rsp.SetStatus(ble.ErrReadNotPerm)
		return
	}
	if _, err := rsp.Write(value); err != nil {
		log.WithError(err).Warn("Read response write failed")
		return
	}

	// The response goes out when this handler returns; the follow-up must come after it.
	time.AfterFunc(t.opts.ReadCompleteDelay, func() {
		if h := t.currentHandler(); h != nil {
			h.HandleReadComplete(id)
		}
	})
}

func (t *Transport) serveWrite(id registry.ID, req ble.Request) {
	h := t.currentHandler()
	if h == nil {
		return
	}
	t.logger.WithFields(logrus.Fields{
		"characteristic": id,
		"central":        remoteAddr(req),
		"payload_len":    len(req.Data()),
	}).Debug("Write received")
	h.HandleWrite(id, append([]byte(nil), req.Data()...))
}

// serveNotify keeps the central subscribed until its notifier context ends.
func (t *Transport) serveNotify(id registry.ID, req ble.Request, n ble.Notifier) {
	q := t.queue(id)
	if q == nil {
		return
	}
	addr := remoteAddr(req)
	log := t.logger.WithFields(logrus.Fields{"characteristic": id, "central": addr})

	q.subscribe(addr, n)
	log.Info("Central subscribed")

	<-notifierDone(n)

	q.unsubscribe(addr)
	log.Info("Central unsubscribed")
}

func notifierDone(n ble.Notifier) <-chan struct{} {
	if ctx := n.Context(); ctx != nil {
		return ctx.Done()
	}
	return context.Background().Done()
}

func remoteAddr(req ble.Request) string {
	if req == nil || req.Conn() == nil || req.Conn().RemoteAddr() == nil {
		return "unknown"
	}
	return req.Conn().RemoteAddr().String()
}
