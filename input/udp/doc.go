// Package udp provides a source that receives datagrams on a UDP socket.
//
// The socket is bound when the engine opens its plugins and closed at
// shutdown. Each Acquire returns the next datagram as a message.Datagram;
// while the socket is quiet Acquire keeps waiting, waking on a short read
// deadline to notice cancellation.
//
// Configuration:
//
//	{
//	  "name": "telemetry",
//	  "type": "udp",
//	  "parameters": {
//	    "bind": "0.0.0.0",
//	    "port": 14550,
//	    "buffer_size": 65536,
//	    "domain": "data"
//	  }
//	}
package udp
