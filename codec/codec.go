package codec

import "fmt"

// 包络标记字段
const (
	kindKey  = "kind"
	dataKey  = "data"
	shapeKey = "shape"
	dtypeKey = "dtype"

	kindImage = "image"
	kindArray = "array"
)

// EncodeObservation 将观测编码为可过网的包络映射。
// 标量原样通过；图像压缩后base64文本包装；其余数组
// 按数值列表加shape/dtype标记，精确往返。
func EncodeObservation(obs Observation, opts Options) (map[string]any, error) {
	encoded := make(map[string]any, len(obs))
	for key, value := range obs {
		switch v := value.(type) {
		case Scalar:
			encoded[key] = float64(v)
		case *Image:
			data, err := EncodeImage(v, opts)
			if err != nil {
				return nil, fmt.Errorf("encode %q: %w", key, err)
			}
			encoded[key] = map[string]any{
				kindKey:  kindImage,
				dataKey:  data,
				shapeKey: v.Shape(),
				dtypeKey: "uint8",
			}
		case *Array:
			if err := checkArray(key, v); err != nil {
				return nil, err
			}
			encoded[key] = map[string]any{
				kindKey:  kindArray,
				dataKey:  v.Data,
				shapeKey: v.Shape,
				dtypeKey: v.Dtype,
			}
		default:
			return nil, fmt.Errorf("encode %q: unsupported value variant %T", key, value)
		}
	}
	return encoded, nil
}

// DecodeObservation 还原包络映射。标记记录按kind分派，
// 未知kind、base64/图像解码失败、shape与载荷不一致均报DecodeError。
func DecodeObservation(encoded map[string]any) (Observation, error) {
	obs := make(Observation, len(encoded))
	for key, value := range encoded {
		if f, ok := asFloat(value); ok {
			obs[key] = Scalar(f)
			continue
		}

		record, ok := value.(map[string]any)
		if !ok {
			return nil, &DecodeError{Key: key, Reason: "value is neither scalar nor tagged record"}
		}

		kind, _ := record[kindKey].(string)
		switch kind {
		case kindImage:
			img, err := decodeImageRecord(key, record)
			if err != nil {
				return nil, err
			}
			obs[key] = img
		case kindArray:
			arr, err := decodeArrayRecord(key, record)
			if err != nil {
				return nil, err
			}
			obs[key] = arr
		default:
			return nil, &DecodeError{Key: key, Reason: "unrecognized kind " + kind}
		}
	}
	return obs, nil
}

// EncodeAction 将动作编码为包络映射。动作约定为纯标量，
// 直接通过，不做标记。
func EncodeAction(action Action) map[string]any {
	encoded := make(map[string]any, len(action))
	for key, value := range action {
		encoded[key] = value
	}
	return encoded
}

// DecodeAction 还原动作映射，非数值项报DecodeError。
func DecodeAction(encoded map[string]any) (Action, error) {
	action := make(Action, len(encoded))
	for key, value := range encoded {
		f, ok := asFloat(value)
		if !ok {
			return nil, &DecodeError{Key: key, Reason: "action value is not a scalar"}
		}
		action[key] = f
	}
	return action, nil
}

func decodeImageRecord(key string, record map[string]any) (*Image, error) {
	data, ok := record[dataKey].(string)
	if !ok {
		return nil, &DecodeError{Key: key, Reason: "image record has no text payload"}
	}

	img, err := DecodeImage(data)
	if err != nil {
		return nil, &DecodeError{Key: key, Reason: "image payload corrupt", Err: err}
	}

	// 声明的shape必须与解码结果一致
	if shape, ok := record[shapeKey]; ok {
		declared, err := asIntSlice(shape)
		if err != nil {
			return nil, &DecodeError{Key: key, Reason: "bad shape field", Err: err}
		}
		if len(declared) != 3 || declared[0] != img.Rows || declared[1] != img.Cols || declared[2] != img.Channels {
			return nil, &DecodeError{Key: key, Reason: "declared shape does not match decoded image"}
		}
	}

	return img, nil
}

func decodeArrayRecord(key string, record map[string]any) (*Array, error) {
	shape, err := asIntSlice(record[shapeKey])
	if err != nil {
		return nil, &DecodeError{Key: key, Reason: "bad shape field", Err: err}
	}

	rawData, ok := record[dataKey].([]any)
	if !ok {
		return nil, &DecodeError{Key: key, Reason: "array record has no list payload"}
	}

	data := make([]float64, len(rawData))
	for i, item := range rawData {
		f, ok := asFloat(item)
		if !ok {
			return nil, &DecodeError{Key: key, Reason: "array element is not numeric"}
		}
		data[i] = f
	}

	dtype, _ := record[dtypeKey].(string)
	if dtype == "" {
		dtype = "float64"
	}

	arr := &Array{Shape: shape, Dtype: dtype, Data: data}
	if err := checkArray(key, arr); err != nil {
		return nil, err
	}
	return arr, nil
}

func checkArray(key string, arr *Array) error {
	if len(arr.Shape) == 0 || len(arr.Shape) > 2 {
		return &DecodeError{Key: key, Reason: "array must be 1-D or 2-D"}
	}
	count := 1
	for _, dim := range arr.Shape {
		if dim <= 0 {
			return &DecodeError{Key: key, Reason: "array shape has non-positive dimension"}
		}
		count *= dim
	}
	if count != len(arr.Data) {
		return &DecodeError{Key: key, Reason: "shape does not match payload length"}
	}
	return nil
}

// asFloat 归一化msgpack可能产出的各种数值类型。
// bool是合法的裸标量（对端语言的观测里会出现），按0/1归一化。
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func asIntSlice(v any) ([]int, error) {
	switch s := v.(type) {
	case []int:
		return s, nil
	case []any:
		out := make([]int, len(s))
		for i, item := range s {
			f, ok := asFloat(item)
			if !ok {
				return nil, &DecodeError{Reason: "shape element is not numeric"}
			}
			out[i] = int(f)
		}
		return out, nil
	default:
		return nil, &DecodeError{Reason: "shape is not a list"}
	}
}
