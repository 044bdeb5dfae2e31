// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

// QuantizationLabels is the closed label set, priority ordered: longer,
// more specific labels come before their prefixes so longest-match
// derivation picks Q4_K_M over Q4_0 for "model.Q4_K_M.gguf".
var QuantizationLabels = []string{
	"Q2_K_S", "Q2_K",
	"Q3_K_S", "Q3_K_M", "Q3_K_L", "Q3_K",
	"Q4_K_S", "Q4_K_M", "Q4_K", "Q4_0", "Q4_1",
	"Q5_K_S", "Q5_K_M", "Q5_K", "Q5_0", "Q5_1",
	"Q6_K", "Q8_0",
	"IQ1_S", "IQ2_XXS", "IQ2_XS", "IQ2_S", "IQ3_XXS", "IQ3_S", "IQ3_M",
	"IQ4_XS", "IQ4_NL",
	"F16", "F32", "BF16",
}

// QuantizationSet is the membership view of QuantizationLabels.
var QuantizationSet = func() map[string]bool {
	m := make(map[string]bool, len(QuantizationLabels))
	for _, l := range QuantizationLabels {
		m[l] = true
	}
	return m
}()

// UnknownQuantization is the fallback label for files whose name carries
// no recognizable quantization marker.
const UnknownQuantization = "Unknown"

// archPattern maps an ordered list of id/tag substrings to a display
// architecture. First match wins, so more specific entries come first.
type archPattern struct {
	Patterns []string
	Name     string
}

// ArchitecturePatterns is the ordered classification table for model
// architectures. Matching is case-insensitive over the model id and tags.
var ArchitecturePatterns = []archPattern{
	{[]string{"mixtral"}, "Mixtral"},
	{[]string{"llama-4", "llama4"}, "Llama"},
	{[]string{"llama-3", "llama3", "llama-2", "llama2", "llama"}, "Llama"},
	{[]string{"codellama", "code-llama"}, "CodeLlama"},
	{[]string{"mistral"}, "Mistral"},
	{[]string{"qwen"}, "Qwen"},
	{[]string{"gemma"}, "Gemma"},
	{[]string{"phi-4", "phi-3", "phi-2", "phi"}, "Phi"},
	{[]string{"deepseek"}, "DeepSeek"},
	{[]string{"command-r", "commandr"}, "Command-R"},
	{[]string{"falcon"}, "Falcon"},
	{[]string{"starcoder"}, "StarCoder"},
	{[]string{"stablelm", "stable-lm"}, "StableLM"},
	{[]string{"yi-"}, "Yi"},
	{[]string{"vicuna"}, "Vicuna"},
	{[]string{"wizardlm", "wizard-lm"}, "WizardLM"},
	{[]string{"openchat"}, "OpenChat"},
	{[]string{"granite"}, "Granite"},
	{[]string{"smollm", "smol-lm"}, "SmolLM"},
	{[]string{"tinyllama", "tiny-llama"}, "TinyLlama"},
	{[]string{"bert"}, "BERT"},
	{[]string{"gpt2", "gpt-2"}, "GPT-2"},
	{[]string{"gpt-oss", "gptoss"}, "GPT-OSS"},
}

// UnknownArchitecture is the default when no pattern matches.
const UnknownArchitecture = "Unknown"

// KnownFamilies are the architecture families searched by the
// architecture-tag discovery strategy ("<family> gguf").
var KnownFamilies = []string{
	"llama", "mistral", "qwen", "gemma", "phi",
	"deepseek", "mixtral", "falcon", "yi", "granite",
}

// KnownOrganizations are publisher accounts that publish GGUF widely;
// the organization-crawl strategy lists each of their repos.
// Overridable via configuration.
var KnownOrganizations = []string{
	"TheBloke",
	"bartowski",
	"mradermacher",
	"unsloth",
	"QuantFactory",
	"lmstudio-community",
	"ggml-org",
	"second-state",
	"MaziyarPanahi",
	"Qwen",
	"microsoft",
	"google",
}

// SearchQuantizationTags is the label subset used by the quantization-tag
// discovery strategy. A subset keeps the strategy under its call budget;
// these labels dominate actual hub usage.
var SearchQuantizationTags = []string{
	"Q4_K_M", "Q5_K_M", "Q8_0", "Q4_0", "Q6_K", "F16", "IQ3_S", "IQ4_XS",
}

// sizeCategory maps parameter-count markers in a model id to a coarse
// size bucket used by the statistics artifact.
type sizeCategory struct {
	Markers []string
	Name    string
}

// SizeCategories is ordered largest-first so "120b" is not shadowed by
// a hypothetical "20b" substring check on the same id.
var SizeCategories = []sizeCategory{
	{[]string{"120b", "175b", "180b", "235b", "405b", "671b"}, "xlarge"},
	{[]string{"20b", "27b", "30b", "32b", "33b", "34b", "40b", "65b", "70b", "72b"}, "large"},
	{[]string{"7b", "8b", "9b", "11b", "13b", "14b"}, "medium"},
	{[]string{"0.5b", "1b", "1.1b", "1.3b", "1.5b", "1.7b", "2b", "3b", "4b"}, "small"},
}

// UnknownSizeCategory is the bucket for ids without a parameter marker.
const UnknownSizeCategory = "unknown"

// ggufMarkerSubstrings are lowercase substrings whose presence in a model
// id or tag indicates a likely GGUF-bearing repository.
var ggufMarkerSubstrings = []string{
	"gguf", "ggml", ".gguf", "-gguf", "_gguf",
	"q4_k_m", "q4_0", "q5_0", "q8_0", "f16", "f32",
}
