package transport

// flowControl holds the connection-level aggregates from spec.md §3's
// Connection record (in_data / out_data / in_data_str / out_data_str)
// and implements the doubling rule of spec.md §4.6: "receiver raises
// in_data_max to 2x the current value when 2*in_data_str > tp_in.max_data."
type flowControl struct {
	inDataMax  uint64 // locally advertised ceiling on total received bytes
	inData     uint64 // cumulative bytes delivered across all streams
	outDataMax uint64 // peer-advertised ceiling on total sent bytes
	outData    uint64 // cumulative bytes sent across all streams
	blocked    bool
}

func (f *flowControl) init(inMax, outMax uint64) {
	f.inDataMax = inMax
	f.outDataMax = outMax
}

// shouldUpdateMax reports whether a new MAX_DATA should be sent to the
// peer, per the doubling rule above.
func (f *flowControl) shouldUpdateMax() bool {
	return 2*f.inData > f.inDataMax
}

// updateMax doubles the local receive ceiling and returns it.
func (f *flowControl) updateMax() uint64 {
	f.inDataMax *= 2
	return f.inDataMax
}

// canSend reports whether n more bytes may be sent without exceeding the
// peer-advertised ceiling.
func (f *flowControl) canSend(n uint64) bool {
	return f.outData+n <= f.outDataMax
}

// onDataReceived records newly-delivered bytes and reports a
// FLOW_CONTROL_ERROR if the peer exceeded what was granted (spec.md
// scenario 5).
func (f *flowControl) onDataReceived(n uint64) error {
	if f.inData+n > f.inDataMax {
		return newError(FlowControlError, "connection flow control limit exceeded")
	}
	f.inData += n
	return nil
}

func (f *flowControl) onDataSent(n uint64) {
	f.outData += n
}
