package message

type (
	// Inbound is one decoded inbound frame. It is either a Single response or
	// a Batch of responses delivered in one frame.
	Inbound interface {
		// Responses returns the responses of the frame in delivery order.
		Responses() []Response
		isInbound()
	}

	// Single is a frame that carries exactly one response object.
	Single struct {
		Response
	}

	// Batch is a frame that carries an ordered array of responses.
	Batch []Response
)

// Responses returns the single response as a one-element slice.
func (s Single) Responses() []Response { return []Response{s.Response} }

// Responses returns the responses of the batch.
func (b Batch) Responses() []Response { return b }

func (Single) isInbound() {}
func (Batch) isInbound()  {}
