package types

// Venue identifies one of the two exchanges the engine trades on.
type Venue string

const (
	// VenuePredict is the maker venue. Orders are identified by on-chain hash.
	VenuePredict Venue = "predict"
	// VenuePolymarket is the hedge venue (CLOB).
	VenuePolymarket Venue = "polymarket"
)

// BookSource records which transport produced an order book snapshot.
type BookSource string

const (
	SourceWS   BookSource = "ws"
	SourceREST BookSource = "rest"
)

// Side is the order direction on a venue.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the inverse direction.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Outcome is the binary outcome a token represents.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Opposite returns the complementary outcome.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// Strategy distinguishes how the maker leg enters the book.
type Strategy string

const (
	// StrategyMaker rests a limit order at the top of the maker book and
	// hedges fills as they arrive.
	StrategyMaker Strategy = "MAKER"
	// StrategyTaker crosses the maker book immediately and hedges the
	// whole fill in one shot.
	StrategyTaker Strategy = "TAKER"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	return s == StrategyMaker || s == StrategyTaker
}

// OrderType is the venue time-in-force for an order.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC"
	OrderTypeIOC OrderType = "IOC"
	OrderTypeFOK OrderType = "FOK"
)
