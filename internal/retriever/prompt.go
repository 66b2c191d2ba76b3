// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package retriever

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeranaias/ragchat/internal/index"
	"github.com/jeranaias/ragchat/internal/model"
	"github.com/jeranaias/ragchat/internal/util"
)

// PromptTemplate wraps the retrieved context and the user's question.
const PromptTemplate = `Use the following pieces of context to answer the question at the end.
If the context doesn't provide enough information, just say that you don't know, don't try to make up an answer.
Pay attention to the context of the question rather than just looking for similar keywords in the corpus.
Keep the answer as concise as possible.
Always say "thanks for asking!" at the end of the answer.
{context}
Question: {question}
Helpful Answer:`

// contextSeparator joins retrieved chunks.
const contextSeparator = "\n\n"

// FormatPrompt fills PromptTemplate.
func FormatPrompt(context, question string) string {
	return strings.NewReplacer("{context}", context, "{question}", question).Replace(PromptTemplate)
}

// BuildContext joins result texts, best first, until the next chunk would
// exceed maxTokens estimated tokens. A first chunk that alone is too large
// is cut to fit. maxTokens <= 0 means no limit.
func BuildContext(results []index.Result, maxTokens int) string {
	var b strings.Builder
	used := 0
	for i, res := range results {
		text := strings.TrimSpace(res.Text)
		if text == "" {
			continue
		}
		cost := model.EstimateTokens(text)
		if i > 0 {
			cost += model.EstimateTokens(contextSeparator)
		}
		if maxTokens > 0 && used+cost > maxTokens {
			if b.Len() == 0 {
				// ~4 characters per token
				b.WriteString(util.TruncateRunes(text, maxTokens*4))
			}
			break
		}
		if b.Len() > 0 {
			b.WriteString(contextSeparator)
		}
		b.WriteString(text)
		used += cost
	}
	return b.String()
}

// PromptMessages retrieves context for question and returns the RAG prompt
// as a single human message.
func (r *Retriever) PromptMessages(ctx context.Context, question string) ([]*model.Message, error) {
	r.logger.Debug(fmt.Sprintf("Generating prompt messages for question: %s", util.Preview(question, previewWidth)))

	results, err := r.GetRelevantDocuments(ctx, question, r.opts.TopK)
	if err != nil {
		return nil, err
	}
	prompt := FormatPrompt(BuildContext(results, r.opts.MaxContextTokens), question)
	return []*model.Message{model.NewMessage(model.RoleHuman, prompt)}, nil
}
