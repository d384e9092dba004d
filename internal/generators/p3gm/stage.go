package p3gm

import "fmt"

// Stage is a step of the training pipeline. A model only moves forward.
type Stage int

const (
	StageUninitialized Stage = iota
	StagePCAFit
	StageMixtureFit
	StageParametersFrozen
	StageDecoderPretrained
	StageNoisedTraining
	StageTrained
)

var stageNames = map[Stage]string{
	StageUninitialized:     "uninitialized",
	StagePCAFit:            "pca_fit",
	StageMixtureFit:        "mixture_fit",
	StageParametersFrozen:  "parameters_frozen",
	StageDecoderPretrained: "decoder_pretrained",
	StageNoisedTraining:    "noised_training",
	StageTrained:           "trained",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}
