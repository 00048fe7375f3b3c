package state

// Height returns the last produced height.
func (m *Manager) Height() (uint64, error) {
	return m.counter(chainHeightKey)
}

// SetHeight records the last produced height.
func (m *Manager) SetHeight(height uint64) error {
	return m.KVPut(chainHeightKey, height)
}
