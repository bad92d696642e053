package ingestor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"taskflow/internal/constants"
)

const (
	quitCommand   = "quit"
	defaultAuthor = "user"
)

// RunInteractive prompts for messages on in until EOF, "quit" or ctx ends,
// ingesting each with the cli source. Blank content is ignored; a failed
// ingestion is reported and the loop continues.
func RunInteractive(ctx context.Context, svc *Service, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)

	prompt := func(label string) (string, bool) {
		fmt.Fprint(out, label)
		if !scanner.Scan() {
			return "", false
		}
		return strings.TrimSpace(scanner.Text()), true
	}

	fmt.Fprintln(out, "Type messages to ingest them. Type 'quit' to exit.")
	for ctx.Err() == nil {
		content, ok := prompt("Message content: ")
		if !ok || strings.EqualFold(content, quitCommand) {
			break
		}
		if content == "" {
			continue
		}

		author, ok := prompt("Author (default: user): ")
		if !ok {
			break
		}
		if author == "" {
			author = defaultAuthor
		}

		channelText, ok := prompt("Channel (optional): ")
		if !ok {
			break
		}
		var channel *string
		if channelText != "" {
			channel = &channelText
		}

		id, err := svc.IngestMessage(ctx, Message{
			Content: content,
			Author:  author,
			Source:  constants.CLIMessageSource,
			Channel: channel,
		})
		if err != nil {
			fmt.Fprintf(out, "Error ingesting message: %v\n\n", err)
			continue
		}
		fmt.Fprintf(out, "Ingested message: %s\n\n", id)
	}

	return scanner.Err()
}
