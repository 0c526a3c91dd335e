package rebalance

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	partitest "github.com/arloliu/parti/testing"
)

func TestNATSTransport_SendOrderedDeliversAndAcks(t *testing.T) {
	_, nc := partitest.StartEmbeddedNATS(t)

	receiver := NewNATSTransport(nc, "n1")
	sender := NewNATSTransport(nc, "self")

	received := make(chan []byte, 1)
	unsubscribe, err := receiver.Subscribe("rebalance.topic", func(from SupplierID, payload []byte) {
		require.Equal(t, SupplierID("self"), from)
		received <- payload
	})
	require.NoError(t, err)
	defer unsubscribe()

	err = sender.SendOrdered(context.Background(), "n1", "rebalance.topic", []byte("hello"), time.Second)
	require.NoError(t, err)

	select {
	case payload := <-received:
		require.Equal(t, []byte("hello"), payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestNATSTransport_SendOrderedFailsWithNoSubscriber(t *testing.T) {
	_, nc := partitest.StartEmbeddedNATS(t)

	sender := NewNATSTransport(nc, "self")

	err := sender.SendOrdered(context.Background(), "n1", "rebalance.nobody", []byte("hello"), 200*time.Millisecond)
	require.Error(t, err)
	require.True(t, IsNodeGone(err), "no responder on the topic should classify as the supplier being gone")
}

// TestNATSTransport_PointToPointRoutingAcrossDistinctConnections uses two
// genuinely separate *nats.Conn connections (not two NATSTransports
// wrapping the same connection) to prove that a subject scoped to the
// recipient's own identity, as rebalanceTopic builds it, reaches only
// that recipient's subscription and never loops back to the sender's own
// subscription on its own inbox subject.
func TestNATSTransport_PointToPointRoutingAcrossDistinctConnections(t *testing.T) {
	ns, demanderConn := partitest.StartEmbeddedNATS(t)

	supplierConn, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(supplierConn.Close)

	demander := NewNATSTransport(demanderConn, "demander")
	supplier := NewNATSTransport(supplierConn, "supplier")

	const (
		demanderInbox = "rebalance.lane.0.demander"
		supplierInbox = "rebalance.lane.0.supplier"
	)

	demanderReceived := make(chan []byte, 1)
	unsubDemander, err := demander.Subscribe(demanderInbox, func(_ SupplierID, payload []byte) {
		demanderReceived <- payload
	})
	require.NoError(t, err)
	defer unsubDemander()

	supplierReceived := make(chan []byte, 1)
	unsubSupplier, err := supplier.Subscribe(supplierInbox, func(from SupplierID, payload []byte) {
		require.Equal(t, SupplierID("demander"), from)
		supplierReceived <- payload
	})
	require.NoError(t, err)
	defer unsubSupplier()

	err = demander.SendOrdered(context.Background(), "supplier", supplierInbox, []byte("demand"), time.Second)
	require.NoError(t, err)

	select {
	case payload := <-supplierReceived:
		require.Equal(t, []byte("demand"), payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery to the supplier's own inbox")
	}

	select {
	case <-demanderReceived:
		t.Fatal("demand addressed to the supplier's inbox echoed back into the demander's own subscription")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNATSTransport_UnsubscribeStopsDelivery(t *testing.T) {
	_, nc := partitest.StartEmbeddedNATS(t)

	receiver := NewNATSTransport(nc, "n1")
	sender := NewNATSTransport(nc, "self")

	received := make(chan []byte, 4)
	unsubscribe, err := receiver.Subscribe("rebalance.topic", func(_ SupplierID, payload []byte) {
		received <- payload
	})
	require.NoError(t, err)

	unsubscribe()

	err = sender.SendOrdered(context.Background(), "n1", "rebalance.topic", []byte("hello"), 200*time.Millisecond)
	require.Error(t, err, "no subscriber left to ack the request")

	select {
	case <-received:
		t.Fatal("handler fired after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}
