// Package workflow builds and loads prompt graphs.
//
// Graphs can come from a file exported with "Save (API Format)" (JSON, or
// the same structure written as YAML) or from the built-in text-to-image
// builders.
package workflow

import (
	"comfyclient/comfyapi"
)

// Txt2ImgOptions parameterizes the text-to-image graph.
// Zero values are replaced by DefaultTxt2ImgOptions.
type Txt2ImgOptions struct {
	Checkpoint     string
	Positive       string
	Negative       string
	Seed           int64
	Steps          int
	CFG            float64
	Sampler        string
	Scheduler      string
	Denoise        float64
	Width          int
	Height         int
	BatchSize      int
	FilenamePrefix string
}

// LoraOptions selects the LoRA applied by Txt2ImgLora.
type LoraOptions struct {
	Name          string
	StrengthModel float64
	StrengthClip  float64
}

// DefaultTxt2ImgOptions returns the stock example settings.
func DefaultTxt2ImgOptions() Txt2ImgOptions {
	return Txt2ImgOptions{
		Checkpoint:     "v1-5-pruned-emaonly.ckpt",
		Positive:       "masterpiece best quality girl",
		Negative:       "bad hands",
		Seed:           8566257,
		Steps:          20,
		CFG:            8,
		Sampler:        "euler",
		Scheduler:      "normal",
		Denoise:        1,
		Width:          512,
		Height:         512,
		BatchSize:      1,
		FilenamePrefix: "ComfyUI",
	}
}

// DefaultLoraOptions returns the stock LoRA example settings.
func DefaultLoraOptions() LoraOptions {
	return LoraOptions{
		Name:          "epiNoiseoffset_v2.safetensors",
		StrengthModel: 1,
		StrengthClip:  1,
	}
}

func (o Txt2ImgOptions) withDefaults() Txt2ImgOptions {
	d := DefaultTxt2ImgOptions()
	if o.Checkpoint == "" {
		o.Checkpoint = d.Checkpoint
	}
	if o.Positive == "" {
		o.Positive = d.Positive
	}
	if o.Negative == "" {
		o.Negative = d.Negative
	}
	if o.Seed == 0 {
		o.Seed = d.Seed
	}
	if o.Steps <= 0 {
		o.Steps = d.Steps
	}
	if o.CFG <= 0 {
		o.CFG = d.CFG
	}
	if o.Sampler == "" {
		o.Sampler = d.Sampler
	}
	if o.Scheduler == "" {
		o.Scheduler = d.Scheduler
	}
	if o.Denoise <= 0 {
		o.Denoise = d.Denoise
	}
	if o.Width <= 0 {
		o.Width = d.Width
	}
	if o.Height <= 0 {
		o.Height = d.Height
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.FilenamePrefix == "" {
		o.FilenamePrefix = d.FilenamePrefix
	}
	return o
}

func (o LoraOptions) withDefaults() LoraOptions {
	d := DefaultLoraOptions()
	if o.Name == "" {
		o.Name = d.Name
	}
	if o.StrengthModel == 0 {
		o.StrengthModel = d.StrengthModel
	}
	if o.StrengthClip == 0 {
		o.StrengthClip = d.StrengthClip
	}
	return o
}

// Txt2Img builds the basic checkpoint → sampler → decode → save graph.
// The SaveImage node has id "9".
func Txt2Img(opts Txt2ImgOptions) comfyapi.Prompt {
	return txt2img(opts.withDefaults(), "4")
}

// Txt2ImgLora is Txt2Img with a LoraLoader (node "10") between the
// checkpoint and the sampler and text encoders.
func Txt2ImgLora(opts Txt2ImgOptions, lora LoraOptions) comfyapi.Prompt {
	lora = lora.withDefaults()

	prompt := txt2img(opts.withDefaults(), "10")
	prompt["10"] = comfyapi.Node{
		ClassType: "LoraLoader",
		Inputs: map[string]interface{}{
			"lora_name":      lora.Name,
			"strength_model": lora.StrengthModel,
			"strength_clip":  lora.StrengthClip,
			"model":          comfyapi.NodeRef("4", 0),
			"clip":           comfyapi.NodeRef("4", 1),
		},
	}
	return prompt
}

// txt2img builds the graph with model and clip taken from modelNode.
func txt2img(o Txt2ImgOptions, modelNode string) comfyapi.Prompt {
	return comfyapi.Prompt{
		"3": {
			ClassType: "KSampler",
			Inputs: map[string]interface{}{
				"seed":         o.Seed,
				"steps":        o.Steps,
				"cfg":          o.CFG,
				"sampler_name": o.Sampler,
				"scheduler":    o.Scheduler,
				"denoise":      o.Denoise,
				"model":        comfyapi.NodeRef(modelNode, 0),
				"positive":     comfyapi.NodeRef("6", 0),
				"negative":     comfyapi.NodeRef("7", 0),
				"latent_image": comfyapi.NodeRef("5", 0),
			},
		},
		"4": {
			ClassType: "CheckpointLoaderSimple",
			Inputs:    map[string]interface{}{"ckpt_name": o.Checkpoint},
		},
		"5": {
			ClassType: "EmptyLatentImage",
			Inputs: map[string]interface{}{
				"width":      o.Width,
				"height":     o.Height,
				"batch_size": o.BatchSize,
			},
		},
		"6": {
			ClassType: "CLIPTextEncode",
			Inputs: map[string]interface{}{
				"text": o.Positive,
				"clip": comfyapi.NodeRef(modelNode, 1),
			},
		},
		"7": {
			ClassType: "CLIPTextEncode",
			Inputs: map[string]interface{}{
				"text": o.Negative,
				"clip": comfyapi.NodeRef(modelNode, 1),
			},
		},
		"8": {
			ClassType: "VAEDecode",
			Inputs: map[string]interface{}{
				"samples": comfyapi.NodeRef("3", 0),
				"vae":     comfyapi.NodeRef("4", 2),
			},
		},
		"9": {
			ClassType: "SaveImage",
			Inputs: map[string]interface{}{
				"filename_prefix": o.FilenamePrefix,
				"images":          comfyapi.NodeRef("8", 0),
			},
		},
	}
}
