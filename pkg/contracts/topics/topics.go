package topics

// LedgerEvents carries one message per committed ledger write.
const LedgerEvents = "ledger_events"
