package tpm2sapi

import "github.com/abrmd-go/tabrmd/internal/tpm2rc"

// UnmarshalGetCapabilityProperties parses a TPM2_GetCapability response
// whose capabilityData is a TPML_TAGGED_TPM_PROPERTY: moreData, the
// capability tag (ignored — the caller already knows it asked for
// TPM_CAP_TPM_PROPERTIES), a count, then count (property, value) pairs.
func UnmarshalGetCapabilityProperties(resp []byte) (more bool, props map[uint32]uint32, err error) {
	body, err := bodyAfterHeader(resp)
	if err != nil {
		return false, nil, err
	}
	if len(body) < 1 {
		return false, nil, tpm2rc.New(tpm2rc.Protocol, "truncated GetCapability response: missing moreData")
	}
	more = body[0] != 0

	// body[1:5] is the echoed TPM_CAP; skip straight to the property list.
	count, err := readUint32(body, 5)
	if err != nil {
		return false, nil, err
	}
	if uint64(count)*8 > uint64(len(body)-9) {
		return false, nil, tpm2rc.New(tpm2rc.Protocol, "truncated GetCapability response: short property list")
	}

	props = make(map[uint32]uint32, count)
	offset := 9
	for i := uint32(0); i < count; i++ {
		property, err := readUint32(body, offset)
		if err != nil {
			return false, nil, err
		}
		value, err := readUint32(body, offset+4)
		if err != nil {
			return false, nil, err
		}
		props[property] = value
		offset += 8
	}

	return more, props, nil
}

// UnmarshalGetCapabilityHandles parses a TPM2_GetCapability response whose
// capabilityData is a TPML_HANDLE: moreData, the echoed TPM_CAP, a count,
// then count handles.
func UnmarshalGetCapabilityHandles(resp []byte) (more bool, handles []uint32, err error) {
	body, err := bodyAfterHeader(resp)
	if err != nil {
		return false, nil, err
	}
	if len(body) < 1 {
		return false, nil, tpm2rc.New(tpm2rc.Protocol, "truncated GetCapability response: missing moreData")
	}
	more = body[0] != 0

	count, err := readUint32(body, 5)
	if err != nil {
		return false, nil, err
	}
	if uint64(count)*4 > uint64(len(body)-9) {
		return false, nil, tpm2rc.New(tpm2rc.Protocol, "truncated GetCapability response: short handle list")
	}

	handles = make([]uint32, 0, count)
	offset := 9
	for i := uint32(0); i < count; i++ {
		h, err := readUint32(body, offset)
		if err != nil {
			return false, nil, err
		}
		handles = append(handles, h)
		offset += 4
	}

	return more, handles, nil
}

// UnmarshalContextSave parses a TPM2_ContextSave response's TPMS_CONTEXT
// structure directly out of the response parameter area.
func UnmarshalContextSave(resp []byte) (ContextBlob, error) {
	body, err := bodyAfterHeader(resp)
	if err != nil {
		return ContextBlob{}, err
	}

	sequence, err := readUint64(body, 0)
	if err != nil {
		return ContextBlob{}, err
	}
	savedHandle, err := readUint32(body, 8)
	if err != nil {
		return ContextBlob{}, err
	}
	hierarchy, err := readUint32(body, 12)
	if err != nil {
		return ContextBlob{}, err
	}
	blobLen, err := readUint16(body, 16)
	if err != nil {
		return ContextBlob{}, err
	}
	if len(body) < 18+int(blobLen) {
		return ContextBlob{}, tpm2rc.New(tpm2rc.Protocol, "truncated ContextSave response: short blob")
	}
	blob := make([]byte, blobLen)
	copy(blob, body[18:18+int(blobLen)])

	return ContextBlob{
		Sequence:    sequence,
		SavedHandle: savedHandle,
		Hierarchy:   hierarchy,
		Blob:        blob,
	}, nil
}

// UnmarshalContextLoad parses a TPM2_ContextLoad response, which is just
// the reconstituted handle.
func UnmarshalContextLoad(resp []byte) (uint32, error) {
	body, err := bodyAfterHeader(resp)
	if err != nil {
		return 0, err
	}
	return readUint32(body, 0)
}
