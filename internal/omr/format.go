package omr

import "strings"

// DetectFormat sniffs JPEG and PNG magic bytes. Anything else is an ImageDecodeError.
func DetectFormat(b []byte) (Format, error) {
	// JPEG: FF D8 FF
	if len(b) >= 3 && b[0] == 0xFF && b[1] == 0xD8 && b[2] == 0xFF {
		return FormatJPEG, nil
	}
	if len(b) >= 8 &&
		b[0] == 0x89 && b[1] == 0x50 && b[2] == 0x4E && b[3] == 0x47 &&
		b[4] == 0x0D && b[5] == 0x0A && b[6] == 0x1A && b[7] == 0x0A {
		return FormatPNG, nil
	}
	return "", Errorf(KindImageDecode, "detect format", "unsupported image format (only JPEG and PNG are accepted)")
}

// ParseFormat maps a MIME type or extension ("image/jpeg", "jpg", "png") to a Format.
func ParseFormat(s string) (Format, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "image/")
	s = strings.TrimPrefix(s, ".")
	switch s {
	case "jpeg", "jpg", "pjpeg":
		return FormatJPEG, true
	case "png", "x-png":
		return FormatPNG, true
	}
	return "", false
}

// Validate rejects empty buffers and anything that is not a JPEG or PNG, and
// fills in Format from the content. A declared format must agree with the bytes.
func (r *RawImage) Validate() error {
	if len(r.Data) == 0 {
		return Errorf(KindMissingInput, "validate image", "image %q is empty", r.Name)
	}
	sniffed, err := DetectFormat(r.Data)
	if err != nil {
		return err
	}
	if r.Format != "" {
		declared, ok := ParseFormat(string(r.Format))
		if !ok {
			return Errorf(KindImageDecode, "validate image", "declared format %q is not supported", r.Format)
		}
		if declared != sniffed {
			return Errorf(KindImageDecode, "validate image", "declared format %s does not match content (%s)", declared, sniffed)
		}
	}
	r.Format = sniffed
	return nil
}
