package common

// UnknownOrderRef marks an order-id field on a synthetic settlement trade;
// settlement trades have no originating maker/taker order.
const UnknownOrderRef OrderID = -1

// Trade is the bit-level record emitted by a single match or settlement
// round. Price is integer cents and Qty a contract count; the ID fields are
// dense internal IDs. Synthetic settlement trades use UnknownOrderRef for every order-id
// field.
type Trade struct {
	BuyOrderID    OrderID
	SellOrderID   OrderID
	Price         int32
	Qty           int32
	MakerOrderID  OrderID
	TakerOrderID  OrderID
	BuyUserID     UserID
	SellUserID    UserID
	MarketID      MarketID
}
