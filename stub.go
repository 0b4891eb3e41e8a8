package opus

type Application int

const AppVoIP Application = 2048

type Encoder struct{}
type Decoder struct{}

func NewEncoder(sampleRate, channels int, app Application) (*Encoder, error) { return nil, nil }
func (e *Encoder) SetBitrate(b int) error                                    { return nil }
func (e *Encoder) SetComplexity(c int) error                                 { return nil }
func (e *Encoder) Encode(pcm []int16, data []byte) (int, error)              { return 0, nil }
func NewDecoder(sampleRate, channels int) (*Decoder, error)                  { return nil, nil }
func (d *Decoder) Decode(data []byte, pcm []int16) (int, error)              { return 0, nil }
