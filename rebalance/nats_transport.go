package rebalance

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// supplierHeader carries the sending node's SupplierID on outbound
// messages, since core NATS delivers no sender identity of its own.
const supplierHeader = "Parti-Supplier-Id"

// NATSTransport implements Transport over a core NATS connection (no
// JetStream): a demand message is a request expecting a short ack reply,
// which doubles as the liveness check that turns a supplier's absence
// into nats.ErrNoResponders instead of a silent drop. A supply message
// travels the same way, addressed to the demander's own inbox subject,
// and is acked the same way.
//
// NATSTransport does no subject construction of its own: every node
// derives its own inbox subject for a given lane independently (see
// rebalanceTopic in the Demander) and subscribes to that one, so
// SendOrdered's topic argument must already name the one recipient it is
// meant to reach — core NATS fans a publish out to every subscriber of a
// subject, so a topic shared between sender and recipient would echo.
type NATSTransport struct {
	nc      *nats.Conn
	localID SupplierID
}

var _ Transport = (*NATSTransport)(nil)

// NewNATSTransport wraps an established NATS connection. localID is
// stamped on every outbound message as the sender identity.
func NewNATSTransport(nc *nats.Conn, localID SupplierID) *NATSTransport {
	return &NATSTransport{nc: nc, localID: localID}
}

// SendOrdered sends payload to node on topic as a request, blocking until
// the ack reply arrives, timeout elapses, or ctx is cancelled. A missing
// responder surfaces as nats.ErrNoResponders, which internal/natsutil's
// IsTopologyError (via IsNodeGone) classifies as the supplier having left
// the cluster.
func (t *NATSTransport) SendOrdered(ctx context.Context, node SupplierID, topic string, payload []byte, timeout time.Duration) error {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg := nats.NewMsg(topic)
	msg.Data = payload
	msg.Header.Set(supplierHeader, string(t.localID))

	if _, err := t.nc.RequestMsgWithContext(reqCtx, msg); err != nil {
		return fmt.Errorf("%w: send to %s on %s: %w", ErrSendFailure, node, topic, err)
	}

	return nil
}

// Subscribe registers handler for messages on topic from any sender,
// acking each one (if it was sent as a request) so the sender's
// SendOrdered call observes success.
func (t *NATSTransport) Subscribe(topic string, handler func(from SupplierID, payload []byte)) (func(), error) {
	sub, err := t.nc.Subscribe(topic, func(msg *nats.Msg) {
		from := SupplierID(msg.Header.Get(supplierHeader))
		handler(from, msg.Data)

		if msg.Reply != "" {
			_ = msg.Respond([]byte("ack"))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	return func() { _ = sub.Unsubscribe() }, nil
}
