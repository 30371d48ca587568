package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bidline/internal/config"
	"bidline/internal/engine"
)

type delivery struct {
	header http.Header
	event  webhookEvent
}

func newHookReceiver(t *testing.T) (string, <-chan delivery, func()) {
	t.Helper()
	ch := make(chan delivery, 16)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var evt webhookEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		ch <- delivery{header: r.Header.Clone(), event: evt}
		w.WriteHeader(http.StatusNoContent)
	})}
	go srv.Serve(ln)
	return "http://" + ln.Addr().String() + "/hook", ch, func() {
		srv.Shutdown(context.Background())
		ln.Close()
	}
}

func TestWebhookDeliversNewEventsOnly(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	hookURL, received, stop := newHookReceiver(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a := createAuction(t, srv, nil)
	if err := srv.Engine.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	e := srv.Engine
	cfg := *e.Config
	cfg.Webhooks = []config.WebhookConfig{{URL: hookURL, Events: []string{"bid.accepted"}, Secret: "s3cret"}}
	e.Config = &cfg
	d := newWebhookDispatcher(e, nil)

	// The first pass pins the cursor at the head; auction.created is skipped.
	d.dispatchAll(ctx)
	select {
	case got := <-received:
		t.Fatalf("unexpected delivery %+v", got.event)
	default:
	}

	if _, err := e.SubmitBid(ctx, engine.BidRequest{AuctionID: a.ID, BidderID: "alice", Amount: decimal.RequireFromString("1010")}); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if _, err := e.SubmitBid(ctx, engine.BidRequest{AuctionID: a.ID, BidderID: "bob", Amount: decimal.RequireFromString("1011")}); err == nil {
		t.Fatalf("expected rejection")
	}
	if err := e.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	d.dispatchAll(ctx)

	select {
	case got := <-received:
		if got.event.Type != "bid.accepted" || got.event.ActorID != "alice" || got.event.AuctionID != a.ID {
			t.Fatalf("unexpected event %+v", got.event)
		}
		if got.event.Payload["amount"] != "1010" {
			t.Fatalf("unexpected payload %+v", got.event.Payload)
		}
		if got.header.Get("X-Bidline-Event") != "bid.accepted" || got.header.Get("X-Bidline-Secret") != "s3cret" {
			t.Fatalf("unexpected headers %v", got.header)
		}
	case <-ctx.Done():
		t.Fatalf("no delivery")
	}
	select {
	case got := <-received:
		t.Fatalf("filtered event delivered: %+v", got.event)
	default:
	}

	// Nothing new; the cursor does not rewind.
	d.dispatchAll(ctx)
	select {
	case got := <-received:
		t.Fatalf("duplicate delivery %+v", got.event)
	default:
	}
}

func TestEventFilter(t *testing.T) {
	all := newEventFilter(nil)
	if !all.match("anything") {
		t.Fatalf("empty filter should match all")
	}
	blank := newEventFilter([]string{" ", ""})
	if !blank.match("bid.accepted") {
		t.Fatalf("blank filter should match all")
	}
	f := newEventFilter([]string{"auction.ended", " bid.outbid "})
	if !f.match("bid.outbid") || f.match("bid.accepted") {
		t.Fatalf("unexpected filter result")
	}
}
