// SPDX-License-Identifier: GPL-3.0-only

package protocol

type codeInfo struct {
	name    string
	message string
}

var startCodes = map[byte]codeInfo{
	CodeSuccess:                    {"SUCCESS", "StartUpdate accepted."},
	StartHeaderCmacCheckError:      {"HEADER_CMAC_CHECK_ERROR", "Firmware image header authentication failed."},
	StartHeaderVersionCheckError:   {"HEADER_VERSION_CHECK_ERROR", "Firmware image is not an upgrade; downgrades are not allowed."},
	StartHeaderCapabilityInfoError: {"HEADER_CAPABILITY_INFO_ERROR", "Firmware image header capability info is invalid."},
	StartProcessing:                {"PROCESSING", "Device is processing the firmware header."},
	StartHeaderFlashEraseError:     {"HEADER_FLASH_ERASE_ERROR", "Device failed to erase flash for the update."},
	StartHeaderInfoNotReceived:     {"HEADER_INFO_NOT_RECEIVED", "Device did not receive the firmware header."},
	StartRetry:                     {"RETRY", "Device asked to retry the status poll."},
	StartHeaderCommonParamError:    {"HEADER_COMMON_PARAM_ERROR", "Firmware image header parameters are invalid."},
	CodeOtherError:                 {"HEADER_OTHER_ERROR", "Firmware image header failed for an unknown reason."},
}

var writeCodes = map[byte]codeInfo{
	CodeSuccess:                {"SUCCESS", "Chunk accepted."},
	WriteRetry:                 {"RETRY", "Device is still writing the chunk."},
	WriteFlashWriteError:       {"WRITE_IMAGE_FLASH_WRITE_ERROR", "Device failed while writing the firmware image."},
	WriteSendNext:              {"SEND_NEXT", "Chunk accepted, device is ready for the next one."},
	WriteUpdateNotStarted:      {"WRITE_UPDATE_NOT_STARTED", "WriteUpdateImage was sent before StartUpdate completed."},
	WriteAlsoRetry:             {"ALSO_RETRY", "Device is still writing the chunk."},
	WriteImageCommonParamError: {"WRITE_IMAGE_COMMON_PARAM_ERROR", "Firmware image parameters are invalid."},
	CodeOtherError:             {"WRITE_IMAGE_OTHER_ERROR", "Firmware image write failed for an unknown reason."},
}

var verifyCodes = map[byte]codeInfo{
	CodeSuccess:                   {"SUCCESS", "Firmware image verified."},
	VerifyHeaderCmacCheckError:    {"VERIFY_HEADER_CMAC_CHECK_ERROR", "Firmware image header authentication failed during verify."},
	VerifyHeaderVersionCheckError: {"VERIFY_HEADER_VERSION_CHECK_ERROR", "Firmware image is not an upgrade; downgrades are not allowed."},
	VerifyCapabilityInfoError:     {"VERIFY_CAPABILITY_INFO_ERROR", "Firmware image capability info is invalid."},
	VerifyFwBodyCmacCheckError:    {"VERIFY_FW_BODY_CMAC_CHECK_ERROR", "Firmware image body authentication failed."},
	VerifyKeepPolling:             {"KEEP_POLLING", "Device is still verifying the image."},
	VerifyCommonParamError:        {"VERIFY_COMMON_PARAM_ERROR", "Firmware image parameters are invalid."},
	CodeOtherError:                {"VERIFY_OTHER_ERROR", "Firmware image verification failed for an unknown reason."},
}

var finalizeCodes = map[byte]codeInfo{
	CodeSuccess:         {"SUCCESS", "Update finalized."},
	FinalizeKeepPolling: {"KEEP_POLLING", "Device is still finalizing the update."},
	CodeOtherError:      {"FINALIZE_OTHER_ERROR", "FinalizeUpdate failed for an unknown reason."},
}

func lookupCode(cmd Command, code byte) (codeInfo, bool) {
	var table map[byte]codeInfo
	switch cmd {
	case CommandStartUpdate:
		table = startCodes
	case CommandWriteUpdateImage:
		table = writeCodes
	case CommandVerifyUpdate:
		table = verifyCodes
	case CommandFinalizeUpdate:
		table = finalizeCodes
	default:
		return codeInfo{}, false
	}
	info, ok := table[code]
	return info, ok
}

// CodeName returns the vendor name of a status code for cmd, or "UNKNOWN".
func CodeName(cmd Command, code byte) string {
	if info, ok := lookupCode(cmd, code); ok {
		return info.name
	}
	return "UNKNOWN"
}

// CodeMessage returns an operator facing explanation of a status code for cmd.
func CodeMessage(cmd Command, code byte) string {
	if info, ok := lookupCode(cmd, code); ok {
		return info.message
	}
	return cmd.String() + " failed with an unrecognised status code."
}
