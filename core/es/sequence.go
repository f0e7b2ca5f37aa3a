package es

import "log/slog"

// Sequence is the position of an event within its aggregate's journal.
// The first event of an aggregate has sequence 1 and every following event
// increments it by one, without gaps.
type Sequence uint64

func (s Sequence) Uint64() uint64                          { return uint64(s) }
func (s Sequence) Next() Sequence                          { return s + 1 }
func (s Sequence) SlogAttr() slog.Attr                     { return newSlogSequenceAttr("seq", s) }
func (s Sequence) SlogAttrWithKey(key string) slog.Attr    { return newSlogSequenceAttr(key, s) }
func newSlogSequenceAttr(key string, s Sequence) slog.Attr { return slog.Uint64(key, uint64(s)) }
