package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive   MarketStatus = "active"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
)

// Side selects one of the two market options.
type Side uint8

const (
	SideA Side = iota
	SideB
)

func (s Side) String() string {
	if s == SideB {
		return "b"
	}
	return "a"
}

// Market is the persisted record of a market created through the bot.
type Market struct {
	ID              int64
	ChainMarketID   string
	Question        string
	OptionA         string
	OptionB         string
	ImageURL        string
	EndTime         time.Time
	Tags            string
	CreatorID       string
	ContractAddress string
	TxHash          string
	Status          MarketStatus
	CreatedAt       time.Time
}

// Provenance tags where a market reference came from.
type Provenance string

const (
	ProvenanceStore Provenance = "store"
	ProvenanceChain Provenance = "chain"
)

// MarketRef is a denormalized market snapshot cached behind a short token so
// follow-up actions need not re-specify the market.
type MarketRef struct {
	Provenance      Provenance
	MarketID        string
	ContractAddress string
	Question        string
	OptionA         string
	OptionB         string
	EndTime         time.Time
	ImageURL        string
	Tags            string
}

// Option returns the label for side s.
func (r MarketRef) Option(s Side) string {
	if s == SideB {
		return r.OptionB
	}
	return r.OptionA
}

// RefFromMarket snapshots a stored market.
func RefFromMarket(m Market) MarketRef {
	return MarketRef{
		Provenance:      ProvenanceStore,
		MarketID:        m.ChainMarketID,
		ContractAddress: m.ContractAddress,
		Question:        m.Question,
		OptionA:         m.OptionA,
		OptionB:         m.OptionB,
		EndTime:         m.EndTime,
		ImageURL:        m.ImageURL,
		Tags:            m.Tags,
	}
}
