package state

import (
	"fmt"

	"auctionhouse/core/outbox"
)

func (m *Manager) counter(key []byte) (uint64, error) {
	var value uint64
	if _, err := m.KVGet(key, &value); err != nil {
		return 0, err
	}
	return value, nil
}

// OutboxTail returns the sequence of the most recently enqueued group.
func (m *Manager) OutboxTail() (uint64, error) { return m.counter(outboxTailKey) }

// OutboxHead returns the sequence of the next group awaiting delivery.
// Sequences start at 1.
func (m *Manager) OutboxHead() (uint64, error) {
	head, err := m.counter(outboxHeadKey)
	if err != nil {
		return 0, err
	}
	if head == 0 {
		return 1, nil
	}
	return head, nil
}

// EnqueueGroup validates the group, assigns the next sequence and stores it
// as pending.
func (m *Manager) EnqueueGroup(group *outbox.Group) (uint64, error) {
	if err := group.Validate(); err != nil {
		return 0, err
	}
	tail, err := m.OutboxTail()
	if err != nil {
		return 0, err
	}
	record := group.Clone()
	record.Sequence = tail + 1
	record.Status = outbox.StatusPending
	if err := m.KVPut(outboxGroupKey(record.Sequence), record); err != nil {
		return 0, err
	}
	if err := m.KVPut(outboxTailKey, record.Sequence); err != nil {
		return 0, err
	}
	return record.Sequence, nil
}

// OutboxGroup loads the group with the given sequence.
func (m *Manager) OutboxGroup(seq uint64) (*outbox.Group, bool, error) {
	group := new(outbox.Group)
	ok, err := m.KVGet(outboxGroupKey(seq), group)
	if err != nil || !ok {
		return nil, false, err
	}
	return group, true, nil
}

// OutboxPut rewrites a stored group, typically to record its delivery status.
// Moving a group to a terminal status at the head advances the head.
func (m *Manager) OutboxPut(group *outbox.Group) error {
	if group == nil || group.Sequence == 0 {
		return fmt.Errorf("state: outbox group sequence required")
	}
	if err := m.KVPut(outboxGroupKey(group.Sequence), group); err != nil {
		return err
	}
	if !group.Status.Terminal() {
		return nil
	}
	head, err := m.OutboxHead()
	if err != nil {
		return err
	}
	if group.Sequence != head {
		return nil
	}
	return m.KVPut(outboxHeadKey, head+1)
}

// NextPendingGroup returns the group at the head of the queue.
func (m *Manager) NextPendingGroup() (*outbox.Group, bool, error) {
	head, err := m.OutboxHead()
	if err != nil {
		return nil, false, err
	}
	tail, err := m.OutboxTail()
	if err != nil {
		return nil, false, err
	}
	if head > tail {
		return nil, false, nil
	}
	return m.OutboxGroup(head)
}

// OutboxBacklog reports how many groups await delivery.
func (m *Manager) OutboxBacklog() (uint64, error) {
	head, err := m.OutboxHead()
	if err != nil {
		return 0, err
	}
	tail, err := m.OutboxTail()
	if err != nil {
		return 0, err
	}
	if head > tail {
		return 0, nil
	}
	return tail - head + 1, nil
}
