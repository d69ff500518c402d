/*
Copyright 2022 The Numaproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package wordcount is a sample application counting the words of sentences.

Sentences are split into words by the Splitter, every word is counted by its own Counter instance, and
the counts are gathered by a single Classifier instance.
*/
package wordcount

import (
	"strings"

	"github.com/numaproj/keyflow/pkg/app"
	"github.com/numaproj/keyflow/pkg/event"
	"github.com/numaproj/keyflow/pkg/keyed"
	"github.com/numaproj/keyflow/pkg/unit"
)

const (
	AppID = "wordcount"

	SentencesStream = "sentences"
	WordsStream     = "words"
	CountsStream    = "counts"

	classifierKey = "classifier"
)

// Sentence is the input of the application.
type Sentence struct {
	Text string `json:"text"`
}

func (*Sentence) EventType() string { return "Sentence" }

// WordSeen is emitted for every word of a sentence.
type WordSeen struct {
	Word string `json:"word"`
}

func (*WordSeen) EventType() string { return "WordSeen" }

// WordCount is the running count of one word.
type WordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

func (*WordCount) EventType() string { return "WordCount" }

type counterState struct {
	Count int `json:"count"`
}

type classifierState struct {
	Counts map[string]int `json:"counts"`
	Seen   int            `json:"seen"`
}

// Events returns the event types of the application.
func Events() *event.Registry {
	r := event.NewRegistry()
	r.MustRegister("Sentence", "", func() event.Event { return &Sentence{} })
	r.MustRegister("WordSeen", "", func() event.Event { return &WordSeen{} })
	r.MustRegister("WordCount", "", func() event.Event { return &WordCount{} })
	return r
}

func split(c *unit.Context, e event.Event) error {
	for _, w := range strings.Fields(e.(*Sentence).Text) {
		if err := c.Emit(WordsStream, &WordSeen{Word: w}); err != nil {
			return err
		}
	}
	return nil
}

func count(c *unit.Context, _ event.Event) error {
	s := unit.StateOf[*counterState](c)
	s.Count++
	return c.Emit(CountsStream, &WordCount{Word: c.Key(), Count: s.Count})
}

// classify keeps the highest count of every word, counts of one word may arrive out of order from
// different partitions.
func classify(c *unit.Context, e event.Event) error {
	wc := e.(*WordCount)
	s := unit.StateOf[*classifierState](c)
	if s.Counts == nil {
		s.Counts = map[string]int{}
	}
	if wc.Count > s.Counts[wc.Word] {
		s.Counts[wc.Word] = wc.Count
	}
	s.Seen++
	return nil
}

// NewBuilder declares the application graph.
func NewBuilder() *app.Builder {
	return app.NewBuilder(AppID, Events()).
		AddUnit(unit.Definition{
			Name:     "Splitter",
			NewState: func() any { return &struct{}{} },
			Handlers: []unit.Handler{{EventType: "Sentence", Fn: split}},
		}).
		AddUnit(unit.Definition{
			Name:     "Counter",
			NewState: func() any { return &counterState{} },
			Handlers: []unit.Handler{{EventType: "WordSeen", Fn: count}},
		}, unit.WithCheckpointing(unit.CheckpointCount, 1, 0)).
		AddUnit(unit.Definition{
			Name:     "Classifier",
			NewState: func() any { return &classifierState{Counts: map[string]int{}} },
			Handlers: []unit.Handler{{EventType: "WordCount", Fn: classify}},
		}, unit.WithCheckpointing(unit.CheckpointCount, 1, 0)).
		AddStream(SentencesStream, keyed.ConstantFinder("sentence"), "Splitter").
		AddStream(WordsStream, func(e event.Event) []string {
			if w, ok := e.(*WordSeen); ok {
				return []string{w.Word}
			}
			return nil
		}, "Counter").
		AddStream(CountsStream, keyed.ConstantFinder(classifierKey), "Classifier")
}

// Results returns a copy of the counts gathered by the classifier of a, false if this process does not
// own the classifier.
func Results(a *app.App) (map[string]int, bool) {
	c, ok := a.Registry().Cache("Classifier")
	if !ok {
		return nil, false
	}
	inst, ok := c.Get(classifierKey)
	if !ok {
		return nil, false
	}
	inst.Lock()
	defer inst.Unlock()
	s := inst.State().(*classifierState)
	out := make(map[string]int, len(s.Counts))
	for w, n := range s.Counts {
		out[w] = n
	}
	return out, true
}
