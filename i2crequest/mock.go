package i2crequest

import "errors"

// TxResponse is a canned reply for MockTxResponses.
type TxResponse struct {
	Response []byte
	Err      error
}

// TxRequest records a transaction made while mocked.
type TxRequest struct {
	Address byte
	Write   []byte
	ReadLen int
}

var errNoMockResponse = errors.New("no mock response left")

// MockTxResponses replaces the D-Bus transport with one answering from responses
// in order. The returned slice pointer collects the requests made.
func MockTxResponses(responses []TxResponse) *[]TxRequest {
	requests := []TxRequest{}
	txFn = func(address byte, write []byte, readLen, timeout int) ([]byte, error) {
		requests = append(requests, TxRequest{Address: address, Write: write, ReadLen: readLen})
		if len(responses) == 0 {
			return nil, errNoMockResponse
		}
		r := responses[0]
		responses = responses[1:]
		return r.Response, r.Err
	}
	return &requests
}

// ResetMock restores the D-Bus transport.
func ResetMock() {
	txFn = dbusTx
}
