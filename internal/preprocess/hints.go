package preprocess

import (
	"strings"

	"github.com/samber/lo"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
)

var (
	calculatorWords = []string{"calculate", "compute", "percent of", "square root", "how much is"}
	searchWords     = []string{"latest", "news", "price of", "current", "today", "source", "cite", "statistics"}
	knowledgeWords  = []string{"knowledge base", "our docs", "our documentation", "my notes", "internal wiki", "remember"}
	imageWords      = []string{"draw", "generate an image", "picture of", "illustration", "render an image"}

	medicalWords = []string{"symptom", "symptoms", "diagnosis", "medication", "dose", "dosage", "disease", "treatment", "doctor", "patient", "clinical"}
	legalWords   = []string{"contract", "lawsuit", "liability", "statute", "legal", "attorney", "court", "copyright", "regulation", "gdpr"}
)

// MemoryRole marks history turns injected from the memory store.
const MemoryRole = "memory"

// ToolHints lists the tools likely to help with text, in a stable order.
func ToolHints(text string, task models.TaskType, ambiguities []models.Ambiguity, history []models.Turn) []string {
	lower := strings.ToLower(text)
	var hints []string

	if arithmeticPattern.MatchString(text) || anyWord(lower, calculatorWords) {
		hints = append(hints, models.ToolCalculator)
	}
	temporal := lo.ContainsBy(ambiguities, func(a models.Ambiguity) bool { return a.Type == models.AmbiguityTemporal })
	if task == models.TaskFactual || task == models.TaskResearch || temporal || anyWord(lower, searchWords) {
		hints = append(hints, models.ToolWebSearch)
	}
	if task == models.TaskCoding || codeFencePattern.MatchString(text) {
		hints = append(hints, models.ToolCodeSandbox)
	}
	hasMemory := lo.ContainsBy(history, func(t models.Turn) bool { return t.Role == MemoryRole })
	if hasMemory || anyWord(lower, knowledgeWords) {
		hints = append(hints, models.ToolKnowledgeBase)
	}
	if anyWord(lower, imageWords) {
		hints = append(hints, models.ToolImageGeneration)
	}
	return lo.Uniq(hints)
}

// DetectDomain picks the refiner domain.
func DetectDomain(text string, task models.TaskType) models.Domain {
	switch task {
	case models.TaskCoding:
		return models.DomainCoding
	case models.TaskMath:
		return models.DomainMath
	}
	lower := strings.ToLower(text)
	switch {
	case anyWord(lower, medicalWords):
		return models.DomainMedical
	case anyWord(lower, legalWords):
		return models.DomainLegal
	}
	return models.DomainGeneral
}

func anyWord(lower string, words []string) bool {
	return lo.ContainsBy(words, func(w string) bool { return containsWord(lower, w) })
}
