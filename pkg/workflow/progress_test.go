package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

func TestBrokerDeliversPerCase(t *testing.T) {
	b := NewBroker()
	ch1, cancel1 := b.Subscribe("case-1")
	defer cancel1()
	ch2, cancel2 := b.Subscribe("case-2")
	defer cancel2()

	b.Publish(contracts.ProgressEvent{CaseID: "case-1", Kind: contracts.EventStepStarted})

	require.Len(t, ch1, 1)
	ev := <-ch1
	assert.Equal(t, contracts.EventStepStarted, ev.Kind)
	assert.Len(t, ch2, 0)
}

func TestBrokerCancelClosesChannel(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("case-1")
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not panic or deliver.
	b.Publish(contracts.ProgressEvent{CaseID: "case-1", Kind: contracts.EventStepStarted})
}

func TestBrokerDropsWhenSubscriberFull(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("case-1")
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(contracts.ProgressEvent{CaseID: "case-1", Kind: contracts.EventStepStarted})
	}
	assert.Len(t, ch, subscriberBuffer)
}
