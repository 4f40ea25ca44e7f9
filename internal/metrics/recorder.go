package metrics

// Recorder receives one Result per request.
type Recorder interface {
	Record(result Result)
}

// Recorders fans a result out to several recorders. Nil entries are skipped.
type Recorders []Recorder

// Record implements Recorder.
func (rs Recorders) Record(result Result) {
	for _, r := range rs {
		if r != nil {
			r.Record(result)
		}
	}
}

// Discard is a Recorder that drops every result.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(Result) {}
