package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSTTConnect ReasonCode = "stt_connect"
	ReasonSTTSend    ReasonCode = "stt_send"

	ReasonSynthPrimary  ReasonCode = "synth_primary"
	ReasonSynthFallback ReasonCode = "synth_fallback"

	ReasonLLMGenerate ReasonCode = "llm_generate"
	ReasonLLMExtract  ReasonCode = "llm_extract"

	ReasonLeadDispatch ReasonCode = "lead_dispatch"

	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"
	ReasonTransportSend             ReasonCode = "transport_send"
)
