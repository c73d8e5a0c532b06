package shadow

import (
	"fmt"

	"shadowstat/pkg/checkpoint"
)

// DigestInto adds everything that determines the evaluator's output for a
// given residual: the source gradient cache, the signal mask and the options.
func (e *Evaluator) DigestInto(d *checkpoint.Digest) *checkpoint.Digest {
	d.Int("source.width", int64(e.source.Width)).
		Int("source.height", int64(e.source.Height)).
		Int("source.bands", int64(len(e.source.Bands)))
	for i, sb := range e.source.Bands {
		key := fmt.Sprintf("band.%d", i)
		d.String(key+".name", sb.Band.Name).
			Float(key+".lambda_min", sb.Band.LambdaMin).
			Float(key+".lambda_max", sb.Band.LambdaMax).
			Float(key+".lambda_mean", sb.LambdaMean).
			Field(key+".gx", sb.Gx).
			Field(key+".gy", sb.Gy).
			Field(key+".mag", sb.Mag)
	}
	d.Mask("signal", e.signal)

	o := e.opts
	return d.Int("opt.block_size", int64(o.BlockSize)).
		Float("opt.resid_q", o.ResidualQuantile).
		Float("opt.weight_exp", o.WeightExp).
		Int("opt.morph_close", int64(o.MorphClose)).
		Int("opt.morph_open", int64(o.MorphOpen)).
		Int("opt.morph_clean_min", int64(o.MorphCleanMin)).
		String("opt.kernel", fmt.Sprintf("%#v", o.Kernel))
}
