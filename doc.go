/*
Package audiograph allows to build real-time audio graphs.

# Concept

A graph consists of nodes that exchange interleaved float32 samples of a
fixed format. There are three kinds of nodes:

	Source - produces samples, downstream pulls them with Read;
	Sink - consumes samples, upstream pushes them with Write;
	Filter - both source and sink, transforms samples on the way.

Every node belongs to exactly one Graph. Nodes are connected with
Graph.Connect, which only succeeds if output format of upstream equals
input format of downstream. Formats are never adapted implicitly, a
conforming filter must be inserted instead.

# Transfers

Read and Write take a buffer, an element offset into it and a count of
samples per channel. Read may return less than requested. Zero samples
without error means nothing is available yet and the read should be
retried later, ReadFull does that. The end of stream is io.EOF, any other
failure wraps ErrTransferFault.

Nodes must not read or write outside of the transfer region of a buffer and
must not rely on its contents outside of what they wrote. Scratch buffers
are rented from pool.Pool to keep transfers free of allocations.

# Drivers

Hardware devices are driven by callbacks that can not block. Package driver
bridges them: it pumps samples between a callback boundary and the graph on
its own goroutine. Package mixer sums any number of inputs into one output
and allows to add inputs while samples are flowing.
*/
package audiograph
