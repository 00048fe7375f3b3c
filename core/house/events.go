package house

import (
	"strconv"

	"auctionhouse/core/outbox"
	"auctionhouse/core/types"
	"auctionhouse/crypto"
	"auctionhouse/native/auction"
)

const (
	EventDeployed       = "house.deployed"
	EventPaused         = "house.paused"
	EventUnpaused       = "house.unpaused"
	EventOutboxApplied  = "outbox.applied"
	EventOutboxFallback = "outbox.fallback"
	EventOutboxFailed   = "outbox.failed"
)

type houseEvent struct {
	evt *types.Event
}

func (e houseEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e houseEvent) Event() *types.Event { return e.evt }

func newHouseEvent(eventType string, height uint64, attrs map[string]string) houseEvent {
	if attrs == nil {
		attrs = map[string]string{}
	}
	return houseEvent{evt: &types.Event{Type: eventType, Height: height, Attributes: attrs}}
}

func newOutboxEvent(group *outbox.Group, height uint64) houseEvent {
	eventType := EventOutboxApplied
	switch group.Status {
	case outbox.StatusFellBack:
		eventType = EventOutboxFallback
	case outbox.StatusFailed:
		eventType = EventOutboxFailed
	}
	attrs := map[string]string{
		"sequence": strconv.FormatUint(group.Sequence, 10),
		"origin":   group.Origin,
		"subject":  auction.FormatID(group.Subject),
		"status":   group.Status.String(),
		"attempts": strconv.FormatUint(group.Attempts, 10),
	}
	if group.LastError != "" {
		attrs["error"] = group.LastError
	}
	return newHouseEvent(eventType, height, attrs)
}

func formatAddress(raw [20]byte) string {
	return crypto.AccountAddress(raw).String()
}
