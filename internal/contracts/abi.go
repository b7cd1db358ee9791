package contracts

// ABI fragments for the stablecoin and escrow contracts, trimmed to the
// calls this service makes.

const ERC20ABI = `[
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]}
]`

const EscrowABI = `[
	{"type":"function","name":"createPayment","stateMutability":"nonpayable","inputs":[{"name":"orderId","type":"bytes32"},{"name":"partner","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"release","stateMutability":"nonpayable","inputs":[{"name":"orderId","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"refund","stateMutability":"nonpayable","inputs":[{"name":"orderId","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"getPayment","stateMutability":"view","inputs":[{"name":"orderId","type":"bytes32"}],"outputs":[{"name":"","type":"tuple","components":[{"name":"buyer","type":"address"},{"name":"partner","type":"address"},{"name":"amount","type":"uint256"},{"name":"status","type":"uint8"}]}]},
	{"type":"event","name":"PaymentCreated","anonymous":false,"inputs":[{"name":"orderId","type":"bytes32","indexed":true},{"name":"buyer","type":"address","indexed":true},{"name":"partner","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"Released","anonymous":false,"inputs":[{"name":"orderId","type":"bytes32","indexed":true},{"name":"partnerAmount","type":"uint256","indexed":false},{"name":"platformAmount","type":"uint256","indexed":false},{"name":"cityAmount","type":"uint256","indexed":false}]},
	{"type":"event","name":"Refunded","anonymous":false,"inputs":[{"name":"orderId","type":"bytes32","indexed":true},{"name":"amount","type":"uint256","indexed":false}]}
]`
