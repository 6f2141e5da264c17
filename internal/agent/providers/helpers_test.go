package providers

import "github.com/haasonsaas/conduit/pkg/models"

// userMessage builds a user message from explicit parts; the production
// constructor only accepts plain text.
func userMessage(parts ...models.Part) *models.Message {
	msg := models.UserMessage("")
	msg.Parts = parts
	return msg
}

// toolResultPart builds a tool result part with an explicit error flag.
func toolResultPart(id, name, output string, isError bool) models.Part {
	p := models.ToolResultPart(id, name, output)
	p.IsError = isError
	return p
}

// imagePart builds an image part without a media type.
func imagePart(image string) models.Part {
	return models.ImagePart(image, "")
}
