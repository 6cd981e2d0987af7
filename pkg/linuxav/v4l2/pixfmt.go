//go:build linux

package v4l2

// PixFmtFlagBE marks the big-endian variant of a pixel format.
const PixFmtFlagBE uint32 = 1 << 31

// Pixel formats known to the capture pipeline.
const (
	PixFmtYUYV     uint32 = 0x56595559 // 'YUYV'
	PixFmtMJPEG    uint32 = 0x47504A4D // 'MJPG'
	PixFmtJPEG     uint32 = 0x4745504A // 'JPEG'
	PixFmtH264     uint32 = 0x34363248 // 'H264'
	PixFmtHEVC     uint32 = 0x43564548 // 'HEVC'
	PixFmtYVYU     uint32 = 0x55595659 // 'YVYU'
	PixFmtUYVY     uint32 = 0x59565955 // 'UYVY'
	PixFmtVYUY     uint32 = 0x59555956 // 'VYUY'
	PixFmtYYUV     uint32 = 0x56555959 // 'YYUV'
	PixFmtYUV444   uint32 = 0x34343459 // 'Y444'
	PixFmtYUV555   uint32 = 0x4F565559 // 'YUVO'
	PixFmtYUV565   uint32 = 0x50565559 // 'YUVP'
	PixFmtYUV32    uint32 = 0x34565559 // 'YUV4'
	PixFmtY41P     uint32 = 0x50313459 // 'Y41P'
	PixFmtGREY     uint32 = 0x59455247 // 'GREY'
	PixFmtY10BPACK uint32 = 0x42303159 // 'Y10B'
	PixFmtY16      uint32 = 0x20363159 // 'Y16 '
	PixFmtY16BE    uint32 = PixFmtY16 | PixFmtFlagBE
	PixFmtYUV420   uint32 = 0x32315559 // 'YU12'
	PixFmtYUV422P  uint32 = 0x50323234 // '422P'
	PixFmtYVU420   uint32 = 0x32315659 // 'YV12'
	PixFmtNV12     uint32 = 0x3231564E // 'NV12'
	PixFmtNV21     uint32 = 0x3132564E // 'NV21'
	PixFmtNV16     uint32 = 0x3631564E // 'NV16'
	PixFmtNV61     uint32 = 0x3136564E // 'NV61'
	PixFmtNV24     uint32 = 0x3432564E // 'NV24'
	PixFmtNV42     uint32 = 0x3234564E // 'NV42'
	PixFmtSPCA501  uint32 = 0x31303553 // 'S501'
	PixFmtSPCA505  uint32 = 0x35303553 // 'S505'
	PixFmtSPCA508  uint32 = 0x38303553 // 'S508'
	PixFmtSGBRG8   uint32 = 0x47524247 // 'GBRG'
	PixFmtSGRBG8   uint32 = 0x47425247 // 'GRBG'
	PixFmtSBGGR8   uint32 = 0x31384142 // 'BA81'
	PixFmtSRGGB8   uint32 = 0x42474752 // 'RGGB'
	PixFmtRGB24    uint32 = 0x33424752 // 'RGB3'
	PixFmtBGR24    uint32 = 0x33524742 // 'BGR3'
	PixFmtRGB332   uint32 = 0x31424752 // 'RGB1'
	PixFmtRGB565   uint32 = 0x50424752 // 'RGBP'
	PixFmtRGB565X  uint32 = 0x52424752 // 'RGBR'
	PixFmtRGB444   uint32 = 0x34343452 // 'R444'
	PixFmtRGB555   uint32 = 0x4F424752 // 'RGBO'
	PixFmtRGB555X  uint32 = 0x51424752 // 'RGBQ'
	PixFmtBGR666   uint32 = 0x48524742 // 'BGRH'
	PixFmtBGR32    uint32 = 0x34524742 // 'BGR4'
	PixFmtRGB32    uint32 = 0x34424752 // 'RGB4'
	PixFmtARGB444  uint32 = 0x32315241 // 'AR12'
	PixFmtXRGB444  uint32 = 0x32315258 // 'XR12'
	PixFmtARGB555  uint32 = 0x35315241 // 'AR15'
	PixFmtXRGB555  uint32 = 0x35315258 // 'XR15'
	PixFmtARGB555X uint32 = PixFmtARGB555 | PixFmtFlagBE
	PixFmtXRGB555X uint32 = PixFmtXRGB555 | PixFmtFlagBE
	PixFmtABGR32   uint32 = 0x34325241 // 'AR24'
	PixFmtXBGR32   uint32 = 0x34325258 // 'XR24'
	PixFmtARGB32   uint32 = 0x34324142 // 'BA24'
	PixFmtXRGB32   uint32 = 0x34325842 // 'BX24'
)

// decodable is the set of pixel formats the frame pipeline can convert.
var decodable = map[uint32]struct{}{
	PixFmtYUYV: {}, PixFmtMJPEG: {}, PixFmtJPEG: {}, PixFmtH264: {},
	PixFmtYVYU: {}, PixFmtUYVY: {}, PixFmtVYUY: {}, PixFmtYYUV: {},
	PixFmtYUV444: {}, PixFmtYUV555: {}, PixFmtYUV565: {}, PixFmtYUV32: {},
	PixFmtY41P: {}, PixFmtGREY: {}, PixFmtY10BPACK: {}, PixFmtY16: {}, PixFmtY16BE: {},
	PixFmtYUV420: {}, PixFmtYUV422P: {}, PixFmtYVU420: {},
	PixFmtNV12: {}, PixFmtNV21: {}, PixFmtNV16: {}, PixFmtNV61: {}, PixFmtNV24: {}, PixFmtNV42: {},
	PixFmtSPCA501: {}, PixFmtSPCA505: {}, PixFmtSPCA508: {},
	PixFmtSGBRG8: {}, PixFmtSGRBG8: {}, PixFmtSBGGR8: {}, PixFmtSRGGB8: {},
	PixFmtRGB24: {}, PixFmtBGR24: {}, PixFmtRGB332: {}, PixFmtRGB565: {}, PixFmtRGB565X: {},
	PixFmtRGB444: {}, PixFmtRGB555: {}, PixFmtRGB555X: {}, PixFmtBGR666: {},
	PixFmtBGR32: {}, PixFmtRGB32: {},
	PixFmtARGB444: {}, PixFmtXRGB444: {}, PixFmtARGB555: {}, PixFmtXRGB555: {},
	PixFmtARGB555X: {}, PixFmtXRGB555X: {},
	PixFmtABGR32: {}, PixFmtXBGR32: {}, PixFmtARGB32: {}, PixFmtXRGB32: {},
}

// CanDecodeFormat reports whether frames in the given pixel format can be decoded.
// Membership is exact: the big-endian flag is part of the code.
func CanDecodeFormat(pixfmt uint32) bool {
	_, ok := decodable[pixfmt]
	return ok
}

// DecodableFormats returns the number of pixel formats CanDecodeFormat accepts.
func DecodableFormats() int {
	return len(decodable)
}

// FormatFourCC converts a 4-byte pixel format to a human-readable string.
// The big-endian flag is not part of the tag.
func FormatFourCC(format uint32) string {
	format &^= PixFmtFlagBE
	b := make([]byte, 4)
	b[0] = byte(format & 0xFF)
	b[1] = byte((format >> 8) & 0xFF)
	b[2] = byte((format >> 16) & 0xFF)
	b[3] = byte((format >> 24) & 0xFF)
	return string(b)
}

// ParseFourCC converts a tag such as "MJPG" into its pixel format code.
// Tags shorter than four characters are padded with spaces.
func ParseFourCC(tag string) (uint32, bool) {
	if tag == "" || len(tag) > 4 {
		return 0, false
	}
	for len(tag) < 4 {
		tag += " "
	}
	return uint32(tag[0]) | uint32(tag[1])<<8 | uint32(tag[2])<<16 | uint32(tag[3])<<24, true
}
