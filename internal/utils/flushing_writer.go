package utils

import (
	"io"
	"os"
)

type flusher interface {
	Flush() error
}

// FlushingWriter flushes buffered destinations after every write so progress lines appear immediately.
type FlushingWriter struct {
	destination io.Writer
}

// NewFlushingWriter wraps the destination writer.
func NewFlushingWriter(destination io.Writer) *FlushingWriter {
	return &FlushingWriter{destination: destination}
}

// NewConsoleWriter returns destination itself when it is an *os.File so child processes inherit the descriptor.
// Any other destination is wrapped in a FlushingWriter.
func NewConsoleWriter(destination io.Writer) io.Writer {
	if file, isFile := destination.(*os.File); isFile {
		return file
	}
	return NewFlushingWriter(destination)
}

// Write forwards data and flushes the destination when it supports flushing.
func (writer *FlushingWriter) Write(data []byte) (int, error) {
	bytesWritten, writeError := writer.destination.Write(data)
	if writeError != nil {
		return bytesWritten, writeError
	}
	if flushable, ok := writer.destination.(flusher); ok {
		if flushError := flushable.Flush(); flushError != nil {
			return bytesWritten, flushError
		}
	}
	return bytesWritten, nil
}
