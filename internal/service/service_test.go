package service

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChangesMergeRepeatedIDs(t *testing.T) {
	c := NewChanges()
	n := NewNotifier(c)

	n.Changed("a")
	n.Changed("b")
	n.Changed("a")
	<-c.Ready()
	assert.Equal(t, []string{"a", "b"}, c.Drain())
	assert.Empty(t, c.Drain())

	n.Changed("a")
	assert.Equal(t, []string{"a"}, c.Drain())
}

func TestChangesKeepEveryID(t *testing.T) {
	c := NewChanges()
	n := NewNotifier(c)
	for i := 0; i < 1000; i++ {
		n.Changed(fmt.Sprint(i))
	}
	assert.Len(t, c.Drain(), 1000)
}

func TestZeroNotifier(t *testing.T) {
	var n Notifier
	assert.NotPanics(t, func() { n.Changed("a") })
}
