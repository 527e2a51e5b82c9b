package protocol

// 服务端暴露的动词集。请求/应答严格一一对应，
// 每个动词占用一条QUIC流，写请求后同步读应答。
const (
	Connect uint16 = iota + 1
	Disconnect
	Calibrate
	Configure
	GetObservation
	SendAction
	IsConnected
	IsCalibrated
	GetObservationFeatures
	GetActionFeatures
	Ping // 存活探测，不触碰硬件
)

// 应答错误码，与客户端的错误类型一一对应
const (
	CodeAlreadyConnected = "already_connected"
	CodeNotConnected     = "not_connected"
	CodeUninitialized    = "uninitialized"
	CodeSessionEnded     = "session_ended"
	CodeDecode           = "decode"
	CodeHardware         = "hardware"
	CodeUnknownVerb      = "unknown_verb"
)

// Reply 是所有动词的统一应答壳。失败时Body为空，
// ErrCode/ErrMsg 携带服务端异常传回调用方。
type Reply struct {
	OK      bool   `msgpack:"ok"`
	ErrCode string `msgpack:"err_code,omitempty"`
	ErrMsg  string `msgpack:"err_msg,omitempty"`
	// Body 是动词各自应答结构的msgpack编码
	Body []byte `msgpack:"body,omitempty"`
}

// ConnectRequest 请求服务端接通硬件
type ConnectRequest struct {
	Calibrate bool `msgpack:"calibrate"`
}

// BoolReply 用于 IsConnected / IsCalibrated
type BoolReply struct {
	Value bool `msgpack:"value"`
}

// ObservationReply 携带编码后的观测包络
type ObservationReply struct {
	Observation map[string]any `msgpack:"observation"`
}

// ActionRequest 携带编码后的动作包络
type ActionRequest struct {
	Action map[string]any `msgpack:"action"`
}

// ActionReply 返回限幅后实际下发的动作值，
// 是调用方关于实际发生情况的唯一依据。
type ActionReply struct {
	Applied map[string]any `msgpack:"applied"`
}

// Feature 描述一个观测/动作键的形态
type Feature struct {
	Kind  string `msgpack:"kind"` // "scalar" 或 "image"
	Shape []int  `msgpack:"shape,omitempty"`
}

// FeaturesReply 用于特征查询动词
type FeaturesReply struct {
	Features map[string]Feature `msgpack:"features"`
}
