package tpm2sapi

// TPM2_CC command codes for the structured calls the broker issues itself.
const (
	CCStartup       uint32 = 0x144
	CCContextSave   uint32 = 0x162
	CCContextLoad   uint32 = 0x161
	CCFlushContext  uint32 = 0x165
	CCGetCapability uint32 = 0x17A
)

// StartupType names a TPM2_Startup argument (TPM2_SU_CLEAR or
// TPM2_SU_STATE).
type StartupType uint16

// TPM2_SU startup types.
const (
	SUClear StartupType = 0x0000
	SUState StartupType = 0x0001
)
