package tgCommand

// Bot commands
const (
	Start       string = "/start"
	Basket      string = "/basket"
	Capital     string = "/capital"
	Rebalance   string = "/rebalance"
	ResetPrices string = "/reset_prices"
	Template    string = "/template"
	History     string = "/history"
)

// Callback buttons
const (
	RebalanceBtn  string = "rebalance"
	ResetPriceBtn string = "reset_prices"
	SetCapitalBtn string = "set_capital"
	UploadBtn     string = "upload_basket"
)
