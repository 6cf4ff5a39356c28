package events

// Event enumerates high-level topics inside the bot.
type Event string

const (
	EventCandleClose    Event = "candle.close"
	EventSignal         Event = "signal.generated"
	EventTradeOpened    Event = "trade.opened"
	EventTradeClosed    Event = "trade.closed"
	EventTradeStuck     Event = "trade.stuck"
	EventOrderRetry     Event = "order.retry"
	EventRiskCircuit    Event = "risk.circuit"
	EventEquitySnapshot Event = "equity.snapshot"
)
