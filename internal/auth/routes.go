package auth

import "github.com/gin-gonic/gin"

// Routes は画面と認証フローのルートを登録します。
func (h *Handler) Routes(r gin.IRoutes) {
	r.GET("/", h.RequireLogin(), h.Index)
	r.GET(HomePath, h.RequireLogin(), h.Index)

	r.GET(LoginPath, h.LoginPage)
	r.POST(LoginPath, h.VerifyCSRF(), h.Login)
	r.GET("/logout", h.Logout)

	r.GET("/register", h.RegisterPage)
	r.POST("/register", h.VerifyCSRF(), h.Register)
}
