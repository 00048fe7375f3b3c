package auction

import (
	"math/big"
	"sort"

	"auctionhouse/core/outbox"
	"auctionhouse/crypto"
)

// Methods a recall key may invoke on the house.
const (
	MethodCancel   = "cancel"
	MethodFinalize = "finalize"
)

// Lock hands control of asset to the custodian. The custodian key is granted
// before the owner's credential is revoked so the asset always has a
// controller.
func Lock(asset [20]byte, ownerCred, custodianCred crypto.Credential) []outbox.Intent {
	return []outbox.Intent{
		outbox.AddFullAccessKey(asset, custodianCred),
		outbox.DeleteKey(asset, ownerCred),
	}
}

// GrantRecallCapability replaces the owner's key with one that can only call
// cancel or finalize on the house, bounded by allowance.
func GrantRecallCapability(owner [20]byte, ownerCred crypto.Credential, allowance *big.Int, house [20]byte) outbox.Intent {
	return outbox.AddFunctionCallKey(owner, ownerCred, allowance, house, MethodCancel, MethodFinalize)
}

// Release moves control of the auctioned asset from the custodian to toCred
// and restores the owner's full-access key on the owner account. When holder
// is set the executor verifies toCred still belongs to holder.
func Release(a *Auction, holder [20]byte, toCred crypto.Credential) []outbox.Intent {
	intents := []outbox.Intent{outbox.AddFullAccessKeyFor(a.Asset, toCred, holder)}
	if toCred != a.CustodianCredential {
		intents = append(intents, outbox.DeleteKey(a.Asset, a.CustodianCredential))
	}
	return append(intents, outbox.AddFullAccessKey(a.Owner, a.OwnerCredential))
}

// ReturnToOwner is Release back to the listing credential.
func ReturnToOwner(a *Auction) []outbox.Intent {
	return Release(a, [20]byte{}, a.OwnerCredential)
}

// Refunds pays every bid except the one placed by skip back out of custody,
// in bid sequence order.
func Refunds(a *Auction, skip *[20]byte) []outbox.Intent {
	ordered := make([]Bid, 0, len(a.Bids))
	for _, bid := range a.Bids {
		if skip != nil && bid.Bidder == *skip {
			continue
		}
		ordered = append(ordered, bid)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })
	intents := make([]outbox.Intent, 0, len(ordered))
	for _, bid := range ordered {
		intents = append(intents, outbox.Transfer(a.Custodian, bid.Bidder, bid.Amount))
	}
	return intents
}
