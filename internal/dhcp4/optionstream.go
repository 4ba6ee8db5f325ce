package dhcp4

// rawOption is one (code, value) TLV fragment as it appears on the wire,
// before same-code fragments are merged and handed to a typed decoder.
type rawOption struct {
	Code  OptionCode
	Value []byte
}

// parseOptionStream reads a single options buffer (the primary options
// area, or an overloaded sname/file buffer) into an ordered list of raw
// fragments. Code 0 (Pad) is skipped; code 255 (End) stops parsing. A
// missing End at the end of the buffer is tolerated, per spec.md §4.1.
func parseOptionStream(buf []byte) ([]rawOption, error) {
	var out []rawOption
	i := 0
	for i < len(buf) {
		code := OptionCode(buf[i])
		if code == OptionPad {
			i++
			continue
		}
		if code == OptionEnd {
			break
		}
		if i+1 >= len(buf) {
			return nil, ErrMalformedOption
		}
		length := int(buf[i+1])
		start := i + 2
		end := start + length
		if end > len(buf) {
			return nil, ErrMalformedOption
		}
		value := make([]byte, length)
		copy(value, buf[start:end])
		out = append(out, rawOption{Code: code, Value: value})
		i = end
	}
	return out, nil
}

// mergeFragments concatenates, per code, the value bytes of every fragment
// carrying that code across one or more buffers, preserving the order in
// which each code was first seen across the buffers (spec.md §4.1/§4.1.1:
// "reading order for merge is options → file → sname").
func mergeFragments(buffers ...[]rawOption) []rawOption {
	order := make([]OptionCode, 0)
	values := make(map[OptionCode][]byte)
	for _, fragments := range buffers {
		for _, frag := range fragments {
			if _, seen := values[frag.Code]; !seen {
				order = append(order, frag.Code)
			}
			values[frag.Code] = append(values[frag.Code], frag.Value...)
		}
	}
	merged := make([]rawOption, len(order))
	for i, code := range order {
		merged[i] = rawOption{Code: code, Value: values[code]}
	}
	return merged
}

// encodeOptionTLVs serializes opts as code/length/value TLVs, splitting any
// value longer than 255 bytes into multiple same-code fragments (spec.md
// §4.1 "Encoding").
func encodeOptionTLVs(opts Options) []byte {
	var buf []byte
	for _, opt := range opts {
		code := opt.Code()
		value := opt.Encode()
		if len(value) == 0 {
			buf = append(buf, byte(code), 0)
			continue
		}
		for len(value) > 0 {
			chunk := value
			if len(chunk) > 255 {
				chunk = chunk[:255]
			}
			buf = append(buf, byte(code), byte(len(chunk)))
			buf = append(buf, chunk...)
			value = value[len(chunk):]
		}
	}
	buf = append(buf, byte(OptionEnd))
	return buf
}
