package wasm

// Encode writes m in the binary module format. Every function takes i32
// parameters and returns a single i32; func.info records are not encoded.
// Locals above the parameter range are declared as i32. Block types are
// always written as empty since Decode does not use them.
func Encode(m *Module) []byte {
	out := append([]byte{}, magic...)
	out = append(out, 0x01, 0x00, 0x00, 0x00)

	// Type section: one signature per distinct parameter count.
	var sigs []int
	sigIdx := make(map[int]int)
	for _, fn := range m.Funcs {
		n := fn.Params()
		if _, ok := sigIdx[n]; !ok {
			sigIdx[n] = len(sigs)
			sigs = append(sigs, n)
		}
	}
	var types []byte
	types = appendULEB128(types, uint32(len(sigs)))
	for _, n := range sigs {
		types = append(types, typeFunc)
		types = appendULEB128(types, uint32(n))
		for i := 0; i < n; i++ {
			types = append(types, typeI32)
		}
		types = append(types, 0x01, typeI32)
	}
	out = appendSection(out, secType, types)

	var funcs []byte
	funcs = appendULEB128(funcs, uint32(len(m.Funcs)))
	for _, fn := range m.Funcs {
		funcs = appendULEB128(funcs, uint32(sigIdx[fn.Params()]))
	}
	out = appendSection(out, secFunction, funcs)

	var exports []byte
	var nexports uint32
	for i, fn := range m.Funcs {
		if fn.Name == "" {
			continue
		}
		exports = appendName(exports, fn.Name)
		exports = append(exports, externFunc)
		exports = appendULEB128(exports, uint32(i))
		nexports++
	}
	out = appendSection(out, secExport, append(appendULEB128(nil, nexports), exports...))

	var code []byte
	code = appendULEB128(code, uint32(len(m.Funcs)))
	for _, fn := range m.Funcs {
		body := encodeBody(fn)
		code = appendULEB128(code, uint32(len(body)))
		code = append(code, body...)
	}
	out = appendSection(out, secCode, code)

	// Custom "name" section with function names.
	var names []byte
	names = appendULEB128(names, nexports)
	for i, fn := range m.Funcs {
		if fn.Name == "" {
			continue
		}
		names = appendULEB128(names, uint32(i))
		names = appendName(names, fn.Name)
	}
	var custom []byte
	custom = appendName(custom, "name")
	custom = append(custom, 0x01)
	custom = appendULEB128(custom, uint32(len(names)))
	custom = append(custom, names...)
	out = appendSection(out, secCustom, custom)

	return out
}

func encodeBody(fn *Function) []byte {
	maxLocal := -1
	for _, ins := range fn.Body {
		switch ins.Op {
		case OpLocalGet, OpLocalSet, OpLocalTee:
			if int(ins.Imm) > maxLocal {
				maxLocal = int(ins.Imm)
			}
		}
	}

	var body []byte
	if extra := maxLocal + 1 - fn.Params(); extra > 0 {
		body = append(body, 0x01)
		body = appendULEB128(body, uint32(extra))
		body = append(body, typeI32)
	} else {
		body = append(body, 0x00)
	}

	for _, ins := range fn.Body {
		if ins.Op == OpFuncInfo || ins.Op == OpInvalid || ins.Op >= opCount {
			continue
		}
		info := ins.Op.Info()
		body = append(body, info.Code)
		switch info.Imm {
		case ImmIndex:
			body = appendULEB128(body, uint32(ins.Imm))
		case ImmI32:
			body = appendSLEB128(body, int32(ins.Imm))
		case ImmBlockType:
			body = append(body, typeEmpty)
		}
	}
	return append(body, opInfoTable[OpEnd].Code)
}

func appendSection(out []byte, id byte, payload []byte) []byte {
	out = append(out, id)
	out = appendULEB128(out, uint32(len(payload)))
	return append(out, payload...)
}

func appendName(out []byte, s string) []byte {
	out = appendULEB128(out, uint32(len(s)))
	return append(out, s...)
}
