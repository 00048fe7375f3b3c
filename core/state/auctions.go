package state

import (
	"fmt"

	"auctionhouse/native/auction"
)

// AuctionGet loads the auction stored under id.
func (m *Manager) AuctionGet(id [32]byte) (*auction.Auction, bool, error) {
	record := new(auction.Auction)
	ok, err := m.KVGet(auctionRecordKey(id), record)
	if err != nil || !ok {
		return nil, false, err
	}
	return record, true, nil
}

// AuctionPut stores the auction under its identifier.
func (m *Manager) AuctionPut(a *auction.Auction) error {
	if a == nil {
		return fmt.Errorf("state: nil auction")
	}
	return m.KVPut(auctionRecordKey(a.ID), a)
}

// AuctionDelete removes the auction stored under id.
func (m *Manager) AuctionDelete(id [32]byte) error {
	return m.KVDelete(auctionRecordKey(id))
}

// AuctionListing returns the auction currently holding asset.
func (m *Manager) AuctionListing(asset [20]byte) ([32]byte, bool, error) {
	var id [32]byte
	ok, err := m.KVGet(auctionListingKey(asset), &id)
	return id, ok, err
}

// AuctionPutListing records id as the auction holding asset.
func (m *Manager) AuctionPutListing(asset [20]byte, id [32]byte) error {
	return m.KVPut(auctionListingKey(asset), id)
}

// AuctionDeleteListing clears the listing of asset.
func (m *Manager) AuctionDeleteListing(asset [20]byte) error {
	return m.KVDelete(auctionListingKey(asset))
}

// AuctionSettings returns the house configuration, or nil before deployment.
func (m *Manager) AuctionSettings() (*auction.Settings, error) {
	settings := new(auction.Settings)
	ok, err := m.KVGet(houseConfigKey, settings)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return settings, nil
}

// PutAuctionSettings stores the house configuration.
func (m *Manager) PutAuctionSettings(settings *auction.Settings) error {
	if settings == nil {
		return fmt.Errorf("state: nil settings")
	}
	return m.KVPut(houseConfigKey, settings.Clone())
}
