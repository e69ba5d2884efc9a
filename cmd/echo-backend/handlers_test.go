package main

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("echo backend", func() {
	var server *httptest.Server

	BeforeEach(func() {
		server = httptest.NewServer(newMux(slog.New(slog.NewTextHandler(GinkgoWriter, nil))))
	})

	AfterEach(func() {
		server.Close()
	})

	It("echoes request metadata and a body digest", func() {
		body := "hello tunnel"
		req, err := http.NewRequest(http.MethodPut, server.URL+"/some/path?x=1", strings.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("X-Trace", "t-1")

		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

		var echo Echo
		Expect(json.NewDecoder(resp.Body).Decode(&echo)).To(Succeed())
		sum := sha256.Sum256([]byte(body))
		Expect(echo.Method).To(Equal(http.MethodPut))
		Expect(echo.RequestURI).To(Equal("/some/path?x=1"))
		Expect(echo.Headers.Get("X-Trace")).To(Equal("t-1"))
		Expect(echo.BodyLength).To(Equal(int64(len(body))))
		Expect(echo.BodySHA256).To(Equal(hex.EncodeToString(sum[:])))
	})

	It("streams the requested number of chunks", func() {
		resp, err := http.Get(server.URL + "/stream?chunks=3&delay=10ms")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		var lines []string
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		Expect(scanner.Err()).NotTo(HaveOccurred())
		Expect(lines).To(Equal([]string{"chunk 1/3", "chunk 2/3", "chunk 3/3"}))
	})

	It("rejects an out of range chunk count", func() {
		resp, err := http.Get(server.URL + "/stream?chunks=1000")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("echoes WebSocket messages", func() {
		conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", nil)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		Expect(conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})).To(Succeed())
		mt, msg, err := conn.ReadMessage()
		Expect(err).NotTo(HaveOccurred())
		Expect(mt).To(Equal(websocket.BinaryMessage))
		Expect(msg).To(Equal([]byte{1, 2, 3}))
	})

	It("answers health probes", func() {
		resp, err := http.Get(server.URL + "/health")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})
})
