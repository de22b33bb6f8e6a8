package core_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/mpquicfec/core"
	"github.com/mpquicfec/core/internal/fec"
	"github.com/mpquicfec/core/internal/mocks"
	"github.com/mpquicfec/core/internal/protocol"
)

func goodPath(id protocol.PathID, rtt, loss, bw float64) core.PathState {
	return core.PathState{PathID: id, RTTMs: rtt, LossRate: loss, BandwidthMb: bw, JitterMs: 1}
}

var _ = Describe("Controller", func() {
	var (
		mockCtrl *gomock.Controller
		sink     *mocks.MockWriter
		ctrl     *core.Controller
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		sink = mocks.NewMockWriter(mockCtrl)

		cfg := core.DefaultConfig()
		cfg.Scheme = fec.SchemeSystematicRS
		cfg.K, cfg.M = 2, 1
		cfg.BlockSize = 64
		cfg.TelemetrySink = sink

		var err error
		ctrl, err = core.New(cfg)
		Expect(err).ToNot(HaveOccurred())

		ctrl.AddPath(goodPath(1, 20, 0.01, 100))
		ctrl.AddPath(goodPath(2, 40, 0.05, 50))
	})

	It("encodes a completed group into source and repair frames and emits a group_encoded event", func() {
		sink.EXPECT().Write(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			Expect(p).To(ContainSubstring("group_encoded"))
			return len(p), nil
		})

		metas, err := ctrl.SendStreamData(bytes.Repeat([]byte{0x01}, 40), 1)
		Expect(err).ToNot(HaveOccurred())
		Expect(metas).To(BeEmpty(), "first of k=2 source payloads should not complete the group yet")

		metas, err = ctrl.SendStreamData(bytes.Repeat([]byte{0x02}, 40), 1)
		Expect(err).ToNot(HaveOccurred())
		Expect(metas).To(HaveLen(3), "k=2 source + m=1 repair blocks")

		var sourceCount, repairCount int
		for _, meta := range metas {
			if meta.IsRepair {
				repairCount++
			} else {
				sourceCount++
			}
		}
		Expect(sourceCount).To(Equal(2))
		Expect(repairCount).To(Equal(1))
	})

	It("recovers a lost source block from the repair block", func() {
		sink.EXPECT().Write(gomock.Any()).AnyTimes().Return(0, nil)

		_, err := ctrl.SendStreamData(bytes.Repeat([]byte{0xAA}, 40), 1)
		Expect(err).ToNot(HaveOccurred())
		metas, err := ctrl.SendStreamData(bytes.Repeat([]byte{0xBB}, 40), 1)
		Expect(err).ToNot(HaveOccurred())
		Expect(metas).To(HaveLen(3))

		// Drop the first source block and deliver everything else.
		var recovered [][]byte
		dropped := false
		for _, meta := range metas {
			if !meta.IsRepair && !dropped {
				dropped = true
				continue
			}
			out, err := ctrl.ReceiveFECFrame(meta.Frame, meta.PathID)
			Expect(err).ToNot(HaveOccurred())
			if out != nil {
				recovered = out
			}
		}
		Expect(dropped).To(BeTrue())
		Expect(recovered).To(HaveLen(2), "decode reconstructs both source blocks once k of k+m arrive")
	})

	It("only records ack/loss accounting for packets with a known mapping", func() {
		sink.EXPECT().Write(gomock.Any()).AnyTimes().Return(0, nil)

		_, err := ctrl.SendStreamData(bytes.Repeat([]byte{0x01}, 40), 1)
		Expect(err).ToNot(HaveOccurred())
		metas, err := ctrl.SendStreamData(bytes.Repeat([]byte{0x02}, 40), 1)
		Expect(err).ToNot(HaveOccurred())
		Expect(metas).To(HaveLen(3))

		mapped := metas[0]
		Expect(func() {
			ctrl.OnAckReceived(mapped.PathID, mapped.PacketNumber, 15000)
		}).ToNot(Panic())

		// A packet number this Controller never mapped to a block (stale,
		// GC'd, or never issued) must be a safe no-op rather than a crash
		// or spurious feedback into OCO.
		Expect(func() {
			ctrl.OnAckReceived(mapped.PathID, protocol.PacketNumber(999999), 15000)
			ctrl.OnPacketLost(mapped.PathID, protocol.PacketNumber(999999))
		}).ToNot(Panic())
	})

	It("emits a redundancy_decision event on PeriodicUpdate", func() {
		sink.EXPECT().Write(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			Expect(p).To(ContainSubstring("redundancy_decision"))
			return len(p), nil
		})

		Expect(ctrl.PeriodicUpdate()).ToNot(HaveOccurred())
	})

	It("recomputes the redundancy rate on PeriodicUpdate", func() {
		sink.EXPECT().Write(gomock.Any()).AnyTimes().Return(0, nil)

		Expect(ctrl.PeriodicUpdate()).ToNot(HaveOccurred())
		rate := ctrl.Stats().CurrentRedundancyRate
		Expect(rate).To(BeNumerically(">", 0))

		// A second call inside the 100ms gate must still be a safe no-op.
		Expect(ctrl.PeriodicUpdate()).ToNot(HaveOccurred())
		Expect(ctrl.Stats().CurrentRedundancyRate).To(Equal(rate))
	})
})
