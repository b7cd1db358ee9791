package dto

type EscrowPaymentRequest struct {
	Amount  string `json:"amount"`
	Partner string `json:"partner"`
	OrderID string `json:"order_id"`
}

type TokenTransferRequest struct {
	Amount string `json:"amount"`
	To     string `json:"to"`
}
