// Package uds implements a client for ISO 14229 diagnostic services
// layered on an ISO-TP session, plus a passive reassembler for monitoring
// traffic without driving the conversation.
package uds

// Callbacks is the T_Data primitive capability record: a client or passive
// reassembler invokes whichever fields are set, skipping any left nil.
// There is no dispatch table — each call site names the field it wants.
type Callbacks struct {
	Req    func(service byte, data []byte)
	Ind    func(payload []byte)
	Con    func(ok bool, err error)
	SomInd func()
}

func (c Callbacks) req(service byte, data []byte) {
	if c.Req != nil {
		c.Req(service, data)
	}
}

func (c Callbacks) ind(payload []byte) {
	if c.Ind != nil {
		c.Ind(payload)
	}
}

func (c Callbacks) con(ok bool, err error) {
	if c.Con != nil {
		c.Con(ok, err)
	}
}

func (c Callbacks) somInd() {
	if c.SomInd != nil {
		c.SomInd()
	}
}
