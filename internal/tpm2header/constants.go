package tpm2header

// TPM 2.0 structure tags (TPM2_ST) seen on command/response headers.
const (
	TagNoSessions uint16 = 0x8001
	TagSessions   uint16 = 0x8002
)

// Fixed TPM properties cached by the broker at init time (TPM2_PT_*).
const (
	PTMaxCommandSize  uint32 = 0x117
	PTMaxResponseSize uint32 = 0x118
)

// TPM2_RC_INITIALIZE is returned by TPM2_Startup when the TPM has already
// been started; init_tpm treats it as success.
const RCInitialize uint32 = 0x100

// TPM_CAP values used by GetCapability.
const (
	CapTPMProperties uint32 = 0x6
	CapHandles       uint32 = 0x1
)

// TPM2_MAX_TPM_PROPERTIES bounds a single TPM_PROPERTIES capability query.
const MaxTPMProperties uint32 = 127

// Handle ranges (TPM-spec-defined, RH/HR values), used by
// flush_all_contexts and trans_object_count.
const (
	TransientFirst uint32 = 0x80000000
	TransientLast  uint32 = 0x80FFFFFF

	LoadedSessionFirst uint32 = 0x02000000
	LoadedSessionLast  uint32 = 0x02FFFFFF

	ActiveSessionFirst uint32 = 0x03000000
	ActiveSessionLast  uint32 = 0x03FFFFFF
)
