package serializer

import (
	"testing"

	"github.com/alexanderwatt/corecache/rpc/common"
)

// BenchmarkSerialize measures encode throughput per serializer over the full
// message set.
func BenchmarkSerialize(b *testing.B) {
	messages := testMessages()
	for name, factory := range testSerializers {
		b.Run(name, func(b *testing.B) {
			s := factory()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				for _, msg := range messages {
					if _, err := s.Serialize(*msg); err != nil {
						b.Fatal(err)
					}
				}
			}
		})
	}
}

// BenchmarkDeserialize measures decode throughput per serializer.
func BenchmarkDeserialize(b *testing.B) {
	messages := testMessages()
	for name, factory := range testSerializers {
		b.Run(name, func(b *testing.B) {
			s := factory()
			encoded := make([][]byte, len(messages))
			for i, msg := range messages {
				data, err := s.Serialize(*msg)
				if err != nil {
					b.Fatal(err)
				}
				encoded[i] = data
			}
			b.ReportAllocs()
			b.ResetTimer()
			var msg common.Message
			for i := 0; i < b.N; i++ {
				for _, data := range encoded {
					if err := s.Deserialize(data, &msg); err != nil {
						b.Fatal(err)
					}
				}
			}
		})
	}
}
