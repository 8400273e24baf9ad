package market

import (
	"github.com/holiman/uint256"
	"lukechampine.com/blake3"

	"mystra/crypto"
)

// Every field is fixed width, so plain concatenation cannot collide across
// different inputs. The tag byte separates the listing and offer key spaces.
const (
	listingKeyTag byte = 0x01
	offerKeyTag   byte = 0x02
)

// ListingKey derives the slot key shared by the listing and auction stores.
func ListingKey(collection crypto.ContractHash, tokenID *uint256.Int) RecordKey {
	id := tokenBytes(tokenID)
	buf := make([]byte, 0, 1+len(collection)+len(id))
	buf = append(buf, listingKeyTag)
	buf = append(buf, collection[:]...)
	buf = append(buf, id[:]...)
	return RecordKey(blake3.Sum256(buf))
}

// OfferKey derives the slot key of the offer made by party on an asset.
func OfferKey(collection crypto.ContractHash, tokenID *uint256.Int, party crypto.Identity) RecordKey {
	id := tokenBytes(tokenID)
	buf := make([]byte, 0, 1+len(collection)+len(party)+len(id))
	buf = append(buf, offerKeyTag)
	buf = append(buf, collection[:]...)
	buf = append(buf, party[:]...)
	buf = append(buf, id[:]...)
	return RecordKey(blake3.Sum256(buf))
}

func tokenBytes(tokenID *uint256.Int) [32]byte {
	if tokenID == nil {
		return [32]byte{}
	}
	return tokenID.Bytes32()
}
