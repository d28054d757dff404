package chatstream

import "embed"

// TemplateFS contains the embedded HTML templates used to export a transcript as a standalone page.
//
//go:embed templates/*
var TemplateFS embed.FS
