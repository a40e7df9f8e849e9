package model

import "time"

// TrnLog is the normalized, priced record of one order event.
type TrnLog struct {
	OrderID      string
	TokenAddress string
	Amount       string
	Decimals     uint8
	TrnDate      *time.Time
	Signature    string
	TrnEventType ContractType
	EventName    string
	USDPrice     string
	USDValue     string
}
